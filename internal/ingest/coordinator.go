// Package ingest implements the dedup/insert coordinator: the single path
// through which extracted records reach storage.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/events"
	"github.com/worq1337/parcer-sub000/internal/fingerprint"
	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/service"
)

// DefaultDedupWindow bounds the heuristic window query when no fingerprint
// match is possible.
const DefaultDedupWindow = 5 * time.Minute

// Result is the coordinator's answer for one ingestion request.
// AllDuplicates is set when every submitted item matched an existing record,
// so the caller can tell the user instead of silently discarding input.
type Result struct {
	Primary       *model.Record
	Created       []*model.Record
	Duplicates    []*model.Record
	AllDuplicates bool
}

// Coordinator runs the duplicate check and insert for extracted records.
// There is no cross-request locking: concurrent submissions of the same
// logical transaction are resolved by the storage-level fingerprint
// constraint and the recovery path in CreateRecord.
type Coordinator struct {
	store    service.Storage
	trail    *events.Trail
	notifier *events.Notifier
	logger   *slog.Logger
	window   time.Duration
}

// NewCoordinator creates a coordinator. notifier may be nil.
func NewCoordinator(store service.Storage, trail *events.Trail, notifier *events.Notifier, window time.Duration, logger *slog.Logger) *Coordinator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		trail:    trail,
		notifier: notifier,
		window:   window,
		logger:   logger,
	}
}

// ComputeFingerprint derives the dedup hash for a candidate record. Empty
// when the record lacks an amount or card.
func (c *Coordinator) ComputeFingerprint(rec *model.Record) string {
	return fingerprint.Compute(fingerprint.Input{
		DateTime:  rec.DateTime,
		Operator:  rec.Operator,
		Type:      rec.Type,
		CardLast4: rec.CardLast4,
		Amount:    rec.Amount,
	})
}

// CheckDuplicate returns the existing record the candidate duplicates, or
// nil. Fingerprint match is checked first; without one the heuristic window
// query decides.
func (c *Coordinator) CheckDuplicate(ctx context.Context, rec *model.Record) (*model.Record, error) {
	return c.checkDuplicate(ctx, c.store, rec)
}

func (c *Coordinator) checkDuplicate(ctx context.Context, store service.RecordStore, rec *model.Record) (*model.Record, error) {
	if fp := c.ComputeFingerprint(rec); fp != "" {
		existing, err := store.FindByFingerprint(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("fingerprint lookup failed: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	if rec.CardLast4 == "" {
		return nil, nil
	}

	existing, err := store.FindInWindow(ctx, rec.CardLast4, rec.Amount, rec.DateTime, c.window)
	if err != nil {
		return nil, fmt.Errorf("window lookup failed: %w", err)
	}
	return existing, nil
}

// IngestAndPersist runs the duplicate check and insert for every record of
// one request. Items are independent: a duplicate does not stop the rest,
// but a storage failure aborts the request.
func (c *Coordinator) IngestAndPersist(ctx context.Context, records []*model.Record, taskID string) (*Result, error) {
	if len(records) == 0 {
		return nil, common.ErrNoInput
	}

	start := time.Now()
	result := &Result{}
	var pending []*model.StageEvent

	for _, rec := range records {
		if err := c.persistOne(ctx, c.store, rec, result, &pending); err != nil {
			// Earlier items were persisted for real, so their events stand.
			c.flush(ctx, pending)
			c.auditFailure(ctx, taskID, rec, err, time.Since(start))
			return nil, err
		}
	}

	c.flush(ctx, pending)
	c.finishResult(result)
	c.auditSuccess(ctx, taskID, result, time.Since(start))
	return result, nil
}

// ImportBatch processes a batch sequentially inside one transaction with the
// same per-item duplicate check. Any failure rolls back the whole batch.
// Stage events are held back until commit: the storage runs on a single
// connection, and events for rolled-back rows would lie anyway.
func (c *Coordinator) ImportBatch(ctx context.Context, records []*model.Record, taskID string) (*Result, error) {
	if len(records) == 0 {
		return nil, common.ErrNoInput
	}

	start := time.Now()
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result := &Result{}
	var pending []*model.StageEvent

	for _, rec := range records {
		if itemErr := c.persistOne(ctx, tx, rec, result, &pending); itemErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				c.logger.Error("rollback failed", "error", rbErr)
			}
			// Only the failure itself is reported; events for rolled-back
			// rows are dropped.
			c.flush(ctx, pending[len(pending)-1:])
			c.auditFailure(ctx, taskID, rec, itemErr, time.Since(start))
			return nil, itemErr
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	c.flush(ctx, pending)
	c.finishResult(result)
	c.auditSuccess(ctx, taskID, result, time.Since(start))
	return result, nil
}

// persistOne runs the per-item state machine against the given store, which
// is either the storage itself or an open transaction. Stage events are
// appended to pending rather than written, so transactional callers can
// defer them past commit.
func (c *Coordinator) persistOne(ctx context.Context, store service.RecordStore, rec *model.Record, result *Result, pending *[]*model.StageEvent) error {
	existing, err := c.checkDuplicate(ctx, store, rec)
	if err != nil {
		*pending = append(*pending, stageEvent(model.StageFailedDB, model.StatusError, rec, "duplicate check failed", map[string]any{
			"error": err.Error(),
		}))
		return err
	}

	if existing != nil {
		*pending = append(*pending, stageEvent(model.StageDuplicateChecked, model.StatusWarning, existing, "duplicate detected", map[string]any{
			"candidate_amount": rec.Amount,
			"candidate_card":   rec.CardLast4,
		}))
		result.Duplicates = append(result.Duplicates, existing)
		return nil
	}

	rec.Fingerprint = c.ComputeFingerprint(rec)
	saved, err := store.CreateRecord(ctx, rec)
	if err != nil {
		*pending = append(*pending, stageEvent(model.StageFailedDB, model.StatusError, rec, "insert failed", map[string]any{
			"error": err.Error(),
		}))
		return fmt.Errorf("failed to persist record: %w", err)
	}

	if saved.ID != rec.ID {
		// A concurrent request won the fingerprint race; the existing record
		// is the answer, not an error.
		*pending = append(*pending, stageEvent(model.StageDuplicateChecked, model.StatusWarning, saved, "duplicate resolved by storage constraint", nil))
		result.Duplicates = append(result.Duplicates, saved)
		return nil
	}

	*pending = append(*pending, stageEvent(model.StageSaved, model.StatusOK, saved, "record saved", nil))
	result.Created = append(result.Created, saved)
	return nil
}

// finishResult picks the primary record, sets the all-duplicates flag, and
// publishes bus notifications.
func (c *Coordinator) finishResult(result *Result) {
	switch {
	case len(result.Created) > 0:
		result.Primary = result.Created[0]
	case len(result.Duplicates) > 0:
		result.Primary = result.Duplicates[0]
		result.AllDuplicates = true
	}

	if c.notifier == nil {
		return
	}
	for _, rec := range result.Created {
		c.notifier.Publish(events.Notification{
			Kind:   events.NotifyRecordAdded,
			Record: rec,
			Source: rec.Source,
		})
	}
	for _, rec := range result.Duplicates {
		c.notifier.Publish(events.Notification{
			Kind:   events.NotifyDuplicateFound,
			Record: rec,
			Source: rec.Source,
		})
	}
}

func (c *Coordinator) flush(ctx context.Context, pending []*model.StageEvent) {
	if c.trail == nil {
		return
	}
	for _, event := range pending {
		c.trail.Emit(ctx, event)
	}
}

func stageEvent(stage model.Stage, status model.EventStatus, rec *model.Record, message string, payload map[string]any) *model.StageEvent {
	event := &model.StageEvent{
		Stage:   stage,
		Status:  status,
		Message: message,
		Payload: payload,
	}
	if rec != nil {
		event.RecordID = rec.ID
		event.Source = rec.Source
	}
	return event
}

func (c *Coordinator) auditSuccess(ctx context.Context, taskID string, result *Result, elapsed time.Duration) {
	if c.trail == nil || taskID == "" {
		return
	}
	entry := &model.AuditLogEntry{
		TaskID:         taskID,
		Stage:          model.StageSaved,
		Status:         model.StatusOK,
		Message:        fmt.Sprintf("created %d, duplicates %d", len(result.Created), len(result.Duplicates)),
		ProcessingTime: elapsed,
	}
	if result.Primary != nil {
		entry.RecordID = result.Primary.ID
		entry.PayloadHash = payloadHash(result.Primary.RawText)
	}
	if result.AllDuplicates {
		entry.Status = model.StatusWarning
	}
	c.trail.EmitAudit(ctx, entry)
}

func (c *Coordinator) auditFailure(ctx context.Context, taskID string, rec *model.Record, err error, elapsed time.Duration) {
	if c.trail == nil || taskID == "" {
		return
	}
	entry := &model.AuditLogEntry{
		TaskID:         taskID,
		Stage:          model.StageFailedDB,
		Status:         model.StatusError,
		Message:        err.Error(),
		ProcessingTime: elapsed,
	}
	if rec != nil {
		entry.RecordID = rec.ID
		entry.PayloadHash = payloadHash(rec.RawText)
	}
	c.trail.EmitAudit(ctx, entry)
}

func payloadHash(rawText string) string {
	if rawText == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawText))
	return hex.EncodeToString(sum[:])
}
