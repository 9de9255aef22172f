// Package events provides the stage/event audit trail and the in-process
// notification bus.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/service"
)

// Store is the slice of the persistence layer the trail writes to.
type Store interface {
	SaveStageEvent(ctx context.Context, event *model.StageEvent) error
	GetStageEvents(ctx context.Context, recordID string) ([]model.StageEvent, error)
	ListStageEvents(ctx context.Context, filter service.EventFilter) ([]model.StageEvent, error)
	GetStageEventStats(ctx context.Context, filter service.EventFilter) ([]model.StageStat, error)
	BackfillSavedEvents(ctx context.Context) (int64, error)
	CleanupStageEvents(ctx context.Context, keep time.Duration) (int64, error)
	SaveAuditLogEntry(ctx context.Context, entry *model.AuditLogEntry) error
}

// Trail appends audit events for pipeline transitions. A trail write failure
// is logged and swallowed: observability must never block the primary write.
type Trail struct {
	store  Store
	logger *slog.Logger
}

// NewTrail creates an audit trail over the given store.
func NewTrail(store Store, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{store: store, logger: logger}
}

// Emit appends one stage event. Never returns an error.
func (t *Trail) Emit(ctx context.Context, event *model.StageEvent) {
	if event == nil {
		return
	}
	if err := t.store.SaveStageEvent(ctx, event); err != nil {
		t.logger.Error("failed to save stage event",
			"stage", event.Stage,
			"record_id", event.RecordID,
			"error", err)
	}
}

// EmitAudit appends one engineering-log entry. Never returns an error.
func (t *Trail) EmitAudit(ctx context.Context, entry *model.AuditLogEntry) {
	if entry == nil {
		return
	}
	if err := t.store.SaveAuditLogEntry(ctx, entry); err != nil {
		t.logger.Error("failed to save audit log entry",
			"task_id", entry.TaskID,
			"stage", entry.Stage,
			"error", err)
	}
}

// Events returns stage events matching the filter, newest first.
func (t *Trail) Events(ctx context.Context, filter service.EventFilter) ([]model.StageEvent, error) {
	events, err := t.store.ListStageEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage events: %w", err)
	}
	return events, nil
}

// RecordEvents returns the full trail of one record, oldest first.
func (t *Trail) RecordEvents(ctx context.Context, recordID string) ([]model.StageEvent, error) {
	events, err := t.store.GetStageEvents(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage events: %w", err)
	}
	return events, nil
}

// Stats aggregates event counts per stage and status.
func (t *Trail) Stats(ctx context.Context, filter service.EventFilter) ([]model.StageStat, error) {
	stats, err := t.store.GetStageEventStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stage events: %w", err)
	}
	return stats, nil
}

// Backfill synthesizes a "saved" event for every record that has no events
// at all. Records with any existing event are left untouched, so repeated
// runs are safe.
func (t *Trail) Backfill(ctx context.Context) (int64, error) {
	inserted, err := t.store.BackfillSavedEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill saved events: %w", err)
	}
	if inserted > 0 {
		t.logger.Info("backfilled saved events", "inserted", inserted)
	}
	return inserted, nil
}

// Cleanup deletes events older than the keep window.
func (t *Trail) Cleanup(ctx context.Context, keep time.Duration) (int64, error) {
	deleted, err := t.store.CleanupStageEvents(ctx, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up stage events: %w", err)
	}
	return deleted, nil
}
