package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/service"
)

const recordColumns = `id, datetime, weekday, date_display, time_display, operator, app,
	amount, balance, card_last4, is_p2p, transaction_type, currency, source,
	raw_text, metadata, added_via, fingerprint, is_duplicate, duplicate_of_id,
	created_at, updated_at`

// CreateRecord persists a record. A fingerprint-uniqueness violation means a
// concurrent request already saved the same logical transaction; the existing
// record is re-read and returned instead of an error.
func (s *SQLiteStorage) CreateRecord(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return createRecord(ctx, s.db, rec)
}

// CreateRecord within an open transaction.
func (t *sqliteTransaction) CreateRecord(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return createRecord(ctx, t.tx, rec)
}

func createRecord(ctx context.Context, q querier, rec *model.Record) (*model.Record, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	var metadataJSON sql.NullString
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO records (
			id, datetime, weekday, date_display, time_display, operator, app,
			amount, balance, card_last4, is_p2p, transaction_type, currency,
			source, raw_text, metadata, added_via, fingerprint, is_duplicate, duplicate_of_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.DateTime,
		rec.Weekday,
		rec.DateDisplay,
		rec.TimeDisplay,
		rec.Operator,
		nullString(rec.App),
		rec.Amount,
		nullFloat(rec.Balance),
		rec.CardLast4,
		rec.IsP2P,
		rec.Type,
		rec.Currency,
		string(rec.Source),
		nullString(rec.RawText),
		metadataJSON,
		rec.AddedVia,
		nullString(rec.Fingerprint),
		rec.IsDuplicate,
		nullString(rec.DuplicateOf),
	)
	if err != nil {
		if isFingerprintConflict(err) && rec.Fingerprint != "" {
			existing, findErr := findByFingerprint(ctx, q, rec.Fingerprint)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	return getRecordByID(ctx, q, rec.ID)
}

func isFingerprintConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), "records.fingerprint")
}

// GetRecordByID returns the record with the given id.
func (s *SQLiteStorage) GetRecordByID(ctx context.Context, id string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getRecordByID(ctx, s.db, id)
}

func getRecordByID(ctx context.Context, q querier, id string) (*model.Record, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	return scanRecord(row)
}

// FindByFingerprint returns the non-duplicate record owning the fingerprint,
// or nil when none exists.
func (s *SQLiteStorage) FindByFingerprint(ctx context.Context, fp string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return findByFingerprint(ctx, s.db, fp)
}

func (t *sqliteTransaction) FindByFingerprint(ctx context.Context, fp string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return findByFingerprint(ctx, t.tx, fp)
}

func findByFingerprint(ctx context.Context, q querier, fp string) (*model.Record, error) {
	if fp == "" {
		return nil, nil
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE fingerprint = ? AND is_duplicate = 0 LIMIT 1`, fp)

	rec, err := scanRecord(row)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// FindInWindow is the heuristic dedup fallback: same card, equal absolute
// amount, datetime within the window around the candidate, not itself a
// duplicate.
func (s *SQLiteStorage) FindInWindow(ctx context.Context, cardLast4 string, amount float64, at time.Time, window time.Duration) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return findInWindow(ctx, s.db, cardLast4, amount, at, window)
}

func (t *sqliteTransaction) FindInWindow(ctx context.Context, cardLast4 string, amount float64, at time.Time, window time.Duration) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return findInWindow(ctx, t.tx, cardLast4, amount, at, window)
}

func findInWindow(ctx context.Context, q querier, cardLast4 string, amount float64, at time.Time, window time.Duration) (*model.Record, error) {
	if cardLast4 == "" || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, nil
	}
	if window <= 0 {
		return nil, nil
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE card_last4 = ?
		   AND datetime BETWEEN ? AND ?
		   AND ABS(amount) = ABS(?)
		   AND is_duplicate = 0
		 ORDER BY datetime ASC
		 LIMIT 1`,
		cardLast4, at.Add(-window), at.Add(window), amount)

	rec, err := scanRecord(row)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// MarkAsDuplicate flags a record as a duplicate of another.
func (s *SQLiteStorage) MarkAsDuplicate(ctx context.Context, id, originalID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateString(originalID, "originalID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE records SET
			is_duplicate = 1,
			duplicate_of_id = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, originalID, id)
	if err != nil {
		return fmt.Errorf("failed to mark record as duplicate: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// GetRecords returns records matching the filter, oldest first.
func (s *SQLiteStorage) GetRecords(ctx context.Context, filter service.RecordFilter) ([]model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE 1=1`
	var args []any

	if filter.From != nil {
		query += ` AND datetime >= ?`
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += ` AND datetime <= ?`
		args = append(args, *filter.To)
	}
	if filter.CardLast4 != "" {
		query += ` AND card_last4 = ?`
		args = append(args, filter.CardLast4)
	}
	if filter.Type != "" {
		query += ` AND transaction_type = ?`
		args = append(args, filter.Type)
	}
	if filter.Operator != "" {
		query += ` AND operator LIKE ?`
		args = append(args, "%"+filter.Operator+"%")
	}
	if filter.App != "" {
		query += ` AND app = ?`
		args = append(args, filter.App)
	}
	if filter.IsP2P != nil {
		query += ` AND is_p2p = ?`
		args = append(args, *filter.IsP2P)
	}

	query += ` ORDER BY datetime ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	return queryRecords(ctx, s.db, query, args...)
}

// GetRecentRecords returns the newest records, newest first.
func (s *SQLiteStorage) GetRecentRecords(ctx context.Context, limit int) ([]model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	return queryRecords(ctx, s.db,
		`SELECT `+recordColumns+` FROM records ORDER BY datetime DESC LIMIT ?`, limit)
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]model.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.Record
	for rows.Next() {
		rec, scanErr := scanRecordRow(rows.Scan)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	rec, err := scanRecordRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return rec, err
}

func scanRecordRow(scan func(dest ...any) error) (*model.Record, error) {
	var rec model.Record
	var app, rawText, metadata, fingerprint, duplicateOf sql.NullString
	var balance sql.NullFloat64
	var source string

	err := scan(
		&rec.ID,
		&rec.DateTime,
		&rec.Weekday,
		&rec.DateDisplay,
		&rec.TimeDisplay,
		&rec.Operator,
		&app,
		&rec.Amount,
		&balance,
		&rec.CardLast4,
		&rec.IsP2P,
		&rec.Type,
		&rec.Currency,
		&source,
		&rawText,
		&metadata,
		&rec.AddedVia,
		&fingerprint,
		&rec.IsDuplicate,
		&duplicateOf,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.App = app.String
	rec.RawText = rawText.String
	rec.Fingerprint = fingerprint.String
	rec.DuplicateOf = duplicateOf.String
	rec.Source = model.Source(source)
	if balance.Valid {
		rec.Balance = &balance.Float64
	}
	if metadata.Valid && metadata.String != "" {
		if unmarshalErr := json.Unmarshal([]byte(metadata.String), &rec.Metadata); unmarshalErr != nil {
			// Metadata is opaque and not pipeline-owned; a corrupt blob must
			// not make the record unreadable.
			rec.Metadata = map[string]any{"_raw": metadata.String}
		}
	}

	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
