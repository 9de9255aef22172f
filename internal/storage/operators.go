package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/worq1337/parcer-sub000/internal/model"
)

// GetOperators returns the full operator directory.
func (s *SQLiteStorage) GetOperators(ctx context.Context) ([]model.Operator, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_name, app_name, is_p2p, synonyms, created_at
		FROM operators
		ORDER BY canonical_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var operators []model.Operator
	for rows.Next() {
		var op model.Operator
		var appName, synonyms sql.NullString

		if scanErr := rows.Scan(&op.ID, &op.CanonicalName, &appName, &op.IsP2P, &synonyms, &op.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan operator: %w", scanErr)
		}

		op.AppName = appName.String
		if synonyms.Valid && synonyms.String != "" {
			_ = json.Unmarshal([]byte(synonyms.String), &op.Synonyms)
		}
		operators = append(operators, op)
	}
	return operators, rows.Err()
}

// SaveOperator inserts or updates a directory entry by canonical name.
func (s *SQLiteStorage) SaveOperator(ctx context.Context, op *model.Operator) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if op == nil {
		return fmt.Errorf("%w: operator", ErrNilParameter)
	}
	if err := validateString(op.CanonicalName, "canonicalName"); err != nil {
		return err
	}

	var synonymsJSON sql.NullString
	if len(op.Synonyms) > 0 {
		data, err := json.Marshal(op.Synonyms)
		if err != nil {
			return fmt.Errorf("failed to marshal synonyms: %w", err)
		}
		synonymsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (canonical_name, app_name, is_p2p, synonyms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(canonical_name) DO UPDATE SET
			app_name = excluded.app_name,
			is_p2p = excluded.is_p2p,
			synonyms = excluded.synonyms`,
		op.CanonicalName,
		nullString(op.AppName),
		op.IsP2P,
		synonymsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save operator: %w", err)
	}
	return nil
}
