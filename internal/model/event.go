package model

import "time"

// Stage tags a pipeline transition in the audit trail.
type Stage string

// Pipeline stages. The set is closed: new stages require a migration of the
// operational dashboards that consume them.
const (
	StageReceived           Stage = "received"
	StageNormalized         Stage = "normalized"
	StageDuplicateChecked   Stage = "duplicate_checked"
	StageSaved              Stage = "saved"
	StageFailedParse        Stage = "failed_parse"
	StageFailedValidation   Stage = "failed_validation"
	StageFailedDB           Stage = "failed_db"
	StageRequeued           Stage = "requeued"
	StageOCRProcessed       Stage = "ocr_processed"
	StageOCRFallback        Stage = "ocr_fallback_processed"
	StageOCRServiceError    Stage = "ocr_service_error"
	StageImageDownloadError Stage = "image_download_failed"
)

// EventStatus qualifies a stage event.
type EventStatus string

// Event statuses.
const (
	StatusOK      EventStatus = "ok"
	StatusError   EventStatus = "error"
	StatusWarning EventStatus = "warning"
	StatusInfo    EventStatus = "info"
)

// StageEvent is one append-only entry of the per-record audit trail.
// RecordID is empty for failures that happen before any record exists.
type StageEvent struct {
	CreatedAt time.Time
	Payload   map[string]any
	RecordID  string
	Message   string
	Stage     Stage
	Status    EventStatus
	Source    Source
	ID        int64
}

// AuditLogEntry is the finer-grained engineering log, keyed by the
// per-request task identifier rather than the record.
type AuditLogEntry struct {
	CreatedAt      time.Time
	ErrorDetails   map[string]any
	TaskID         string
	RecordID       string
	Message        string
	PayloadHash    string
	Stage          Stage
	Status         EventStatus
	ProcessingTime time.Duration
	ID             int64
}

// StageStat is one row of the queue statistics aggregation.
type StageStat struct {
	Earliest time.Time
	Latest   time.Time
	Stage    Stage
	Status   EventStatus
	Count    int
}
