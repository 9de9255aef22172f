package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS records (
					id TEXT PRIMARY KEY,
					datetime DATETIME NOT NULL,
					weekday TEXT,
					date_display TEXT,
					time_display TEXT,
					operator TEXT,
					app TEXT,
					amount REAL NOT NULL,
					balance REAL,
					card_last4 TEXT,
					is_p2p BOOLEAN DEFAULT 0,
					transaction_type TEXT,
					currency TEXT DEFAULT 'UZS',
					source TEXT,
					raw_text TEXT,
					metadata TEXT,
					added_via TEXT,
					fingerprint TEXT,
					is_duplicate BOOLEAN DEFAULT 0,
					duplicate_of_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_records_datetime ON records(datetime)`,
				`CREATE INDEX idx_records_card_datetime ON records(card_last4, datetime)`,

				`CREATE TABLE IF NOT EXISTS stage_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					record_id TEXT,
					stage TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'ok',
					source TEXT,
					message TEXT,
					payload TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_stage_events_record ON stage_events(record_id)`,

				`CREATE TABLE IF NOT EXISTS operators (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					canonical_name TEXT UNIQUE NOT NULL,
					app_name TEXT,
					is_p2p BOOLEAN DEFAULT 0,
					synonyms TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Enforce fingerprint uniqueness on non-duplicate records",
		Up: func(tx *sql.Tx) error {
			// Partial index: duplicates keep their fingerprint for tracing but
			// only one non-duplicate row may own it. Concurrent inserts of the
			// same logical transaction are arbitrated here, not in application
			// code.
			_, err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_records_fingerprint_unique
				ON records(fingerprint)
				WHERE fingerprint IS NOT NULL AND is_duplicate = 0`)
			return err
		},
	},
	{
		Version:     3,
		Description: "Add audit log for per-task timing diagnostics",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					task_id TEXT NOT NULL,
					record_id TEXT,
					stage TEXT NOT NULL,
					status TEXT NOT NULL,
					message TEXT,
					payload_hash TEXT,
					error_details TEXT,
					processing_time_ms INTEGER,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_audit_log_task ON audit_log(task_id)`,
				`CREATE INDEX idx_stage_events_created ON stage_events(created_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies any pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	return nil
}
