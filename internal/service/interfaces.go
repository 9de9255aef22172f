// Package service defines the interfaces shared across application services.
package service

import (
	"context"
	"time"

	"github.com/worq1337/parcer-sub000/internal/model"
)

// RecordFilter defines filtering options for record listing.
type RecordFilter struct {
	From      *time.Time
	To        *time.Time
	IsP2P     *bool
	CardLast4 string
	Type      string
	Operator  string
	App       string
	Limit     int
	Offset    int
}

// EventFilter bounds stage-event queries.
type EventFilter struct {
	From       *time.Time
	To         *time.Time
	Source     string
	OnlyErrors bool
	Limit      int
	Offset     int
}

// RecordStore is the slice of the persistence layer the dedup/insert
// coordinator works against. It is implemented both by the storage itself and
// by an open transaction, so bulk imports run the same logic inside one tx.
type RecordStore interface {
	// CreateRecord persists a record. A fingerprint-uniqueness violation is
	// recovered internally by returning the already-existing record; callers
	// can detect that case by comparing IDs.
	CreateRecord(ctx context.Context, rec *model.Record) (*model.Record, error)
	FindByFingerprint(ctx context.Context, fp string) (*model.Record, error)
	// FindInWindow is the heuristic fallback: same card, equal absolute
	// amount, datetime within the window, not itself flagged as a duplicate.
	FindInWindow(ctx context.Context, cardLast4 string, amount float64, at time.Time, window time.Duration) (*model.Record, error)
}

// Storage defines the contract for the persistence layer.
type Storage interface {
	RecordStore

	// Record operations
	GetRecordByID(ctx context.Context, id string) (*model.Record, error)
	GetRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)
	GetRecentRecords(ctx context.Context, limit int) ([]model.Record, error)
	MarkAsDuplicate(ctx context.Context, id, originalID string) error

	// Stage events
	SaveStageEvent(ctx context.Context, event *model.StageEvent) error
	GetStageEvents(ctx context.Context, recordID string) ([]model.StageEvent, error)
	ListStageEvents(ctx context.Context, filter EventFilter) ([]model.StageEvent, error)
	GetStageEventStats(ctx context.Context, filter EventFilter) ([]model.StageStat, error)
	BackfillSavedEvents(ctx context.Context) (int64, error)
	CleanupStageEvents(ctx context.Context, keep time.Duration) (int64, error)

	// Audit log
	SaveAuditLogEntry(ctx context.Context, entry *model.AuditLogEntry) error
	GetAuditLogByTask(ctx context.Context, taskID string) ([]model.AuditLogEntry, error)

	// Operator directory
	GetOperators(ctx context.Context) ([]model.Operator, error)
	SaveOperator(ctx context.Context, op *model.Operator) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction over the record store.
type Transaction interface {
	RecordStore
	Commit() error
	Rollback() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions returns the standard bounded retry policy for calls to
// slow external services.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}
