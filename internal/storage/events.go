package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/service"
)

// SaveStageEvent appends one stage event. Events are append-only; there is no
// update path.
func (s *SQLiteStorage) SaveStageEvent(ctx context.Context, event *model.StageEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStageEvent(event); err != nil {
		return err
	}

	var payloadJSON sql.NullString
	if len(event.Payload) > 0 {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(data), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_events (record_id, stage, status, source, message, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullString(event.RecordID),
		string(event.Stage),
		string(event.Status),
		string(event.Source),
		nullString(event.Message),
		payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stage event: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		event.ID = id
	}
	return nil
}

// GetStageEvents returns all events for a record, oldest first.
func (s *SQLiteStorage) GetStageEvents(ctx context.Context, recordID string) ([]model.StageEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(recordID, "recordID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, stage, status, source, message, payload, created_at
		FROM stage_events
		WHERE record_id = ?
		ORDER BY created_at ASC, id ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanStageEvents(rows)
}

// ListStageEvents returns events matching the filter, newest first.
func (s *SQLiteStorage) ListStageEvents(ctx context.Context, filter service.EventFilter) ([]model.StageEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, record_id, stage, status, source, message, payload, created_at
		FROM stage_events
		WHERE 1=1`
	var args []any

	if filter.From != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += ` AND created_at <= ?`
		args = append(args, *filter.To)
	}
	if filter.Source != "" && filter.Source != "all" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.OnlyErrors {
		query += ` AND status = 'error'`
	}

	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanStageEvents(rows)
}

func scanStageEvents(rows *sql.Rows) ([]model.StageEvent, error) {
	var events []model.StageEvent
	for rows.Next() {
		var event model.StageEvent
		var recID, message, payload sql.NullString
		var stage, status, source string

		if scanErr := rows.Scan(&event.ID, &recID, &stage, &status, &source, &message, &payload, &event.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan stage event: %w", scanErr)
		}

		event.RecordID = recID.String
		event.Stage = model.Stage(stage)
		event.Status = model.EventStatus(status)
		event.Source = model.Source(source)
		event.Message = message.String
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &event.Payload)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetStageEventStats aggregates event counts per stage and status.
func (s *SQLiteStorage) GetStageEventStats(ctx context.Context, filter service.EventFilter) ([]model.StageStat, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT stage, status, COUNT(*), MIN(created_at), MAX(created_at)
		FROM stage_events
		WHERE 1=1`
	var args []any

	if filter.From != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += ` AND created_at <= ?`
		args = append(args, *filter.To)
	}
	if filter.Source != "" && filter.Source != "all" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.OnlyErrors {
		query += ` AND status = 'error'`
	}

	query += ` GROUP BY stage, status ORDER BY stage, status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []model.StageStat
	for rows.Next() {
		var stat model.StageStat
		var stage, status string
		if scanErr := rows.Scan(&stage, &status, &stat.Count, &stat.Earliest, &stat.Latest); scanErr != nil {
			return nil, fmt.Errorf("failed to scan event stat: %w", scanErr)
		}
		stat.Stage = model.Stage(stage)
		stat.Status = model.EventStatus(status)
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// BackfillSavedEvents synthesizes a "saved" event for every record that has no
// events at all. Records with at least one event are left untouched, so the
// operation is idempotent.
func (s *SQLiteStorage) BackfillSavedEvents(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_events (record_id, stage, status, source, message)
		SELECT
			r.id,
			'saved',
			'ok',
			LOWER(COALESCE(NULLIF(r.source, ''), 'manual')),
			'Backfilled stage event for existing record'
		FROM records r
		WHERE NOT EXISTS (
			SELECT 1 FROM stage_events e WHERE e.record_id = r.id
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill stage events: %w", err)
	}

	return result.RowsAffected()
}

// CleanupStageEvents deletes events older than the retention period.
func (s *SQLiteStorage) CleanupStageEvents(ctx context.Context, keep time.Duration) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if keep <= 0 {
		return 0, fmt.Errorf("retention period must be positive")
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM stage_events WHERE created_at < ?`, time.Now().Add(-keep))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stage events: %w", err)
	}
	return result.RowsAffected()
}

// SaveAuditLogEntry appends one engineering audit log entry.
func (s *SQLiteStorage) SaveAuditLogEntry(ctx context.Context, entry *model.AuditLogEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := validateString(entry.TaskID, "taskID"); err != nil {
		return err
	}

	var errorJSON sql.NullString
	if len(entry.ErrorDetails) > 0 {
		data, err := json.Marshal(entry.ErrorDetails)
		if err != nil {
			return fmt.Errorf("failed to marshal error details: %w", err)
		}
		errorJSON = sql.NullString{String: string(data), Valid: true}
	}

	var processingMs sql.NullInt64
	if entry.ProcessingTime > 0 {
		processingMs = sql.NullInt64{Int64: entry.ProcessingTime.Milliseconds(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (task_id, record_id, stage, status, message, payload_hash, error_details, processing_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID,
		nullString(entry.RecordID),
		string(entry.Stage),
		string(entry.Status),
		nullString(entry.Message),
		nullString(entry.PayloadHash),
		errorJSON,
		processingMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log entry: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		entry.ID = id
	}
	return nil
}

// GetAuditLogByTask returns all audit entries for a task, newest first.
func (s *SQLiteStorage) GetAuditLogByTask(ctx context.Context, taskID string) ([]model.AuditLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(taskID, "taskID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, record_id, stage, status, message, payload_hash, error_details, processing_time_ms, created_at
		FROM audit_log
		WHERE task_id = ?
		ORDER BY created_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var entry model.AuditLogEntry
		var recordID, message, payloadHash, errorDetails sql.NullString
		var processingMs sql.NullInt64
		var stage, status string

		if scanErr := rows.Scan(&entry.ID, &entry.TaskID, &recordID, &stage, &status,
			&message, &payloadHash, &errorDetails, &processingMs, &entry.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", scanErr)
		}

		entry.RecordID = recordID.String
		entry.Stage = model.Stage(stage)
		entry.Status = model.EventStatus(status)
		entry.Message = message.String
		entry.PayloadHash = payloadHash.String
		if errorDetails.Valid && errorDetails.String != "" {
			_ = json.Unmarshal([]byte(errorDetails.String), &entry.ErrorDetails)
		}
		if processingMs.Valid {
			entry.ProcessingTime = time.Duration(processingMs.Int64) * time.Millisecond
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
