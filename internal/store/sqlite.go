// Package store provides storage backends for Pixwave.
//
// This file implements an SQLite-backed store for generation receipts.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/Pixwave/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists receipts in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteFilePath returns the database file named by a SQLite DSN, dropping a
// "file:" scheme and any query parameters.
func SQLiteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(SQLiteFilePath(dsn))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

// AddGenerationReceipt inserts a receipt.
func (s *SQLiteStore) AddGenerationReceipt(r models.GenerationReceipt) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO generation_receipts (id, session_id, outcome, prompt_length, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, string(r.Outcome), r.PromptLength, r.StartedAt.UTC(), r.CompletedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore AddGenerationReceipt failed", "error", err, "session", r.SessionID)
		return fmt.Errorf("failed to insert receipt for session %s: %w", r.SessionID, err)
	}
	slog.Debug("SQLiteStore AddGenerationReceipt succeeded", "id", r.ID, "outcome", r.Outcome)
	return nil
}

// GetGenerationReceipts returns all receipts ordered by completion time.
func (s *SQLiteStore) GetGenerationReceipts() ([]models.GenerationReceipt, error) {
	rows, err := s.db.Query(`SELECT id, session_id, outcome, prompt_length, started_at, completed_at
		FROM generation_receipts ORDER BY completed_at ASC`)
	if err != nil {
		slog.Error("SQLiteStore GetGenerationReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	receipts, err := scanReceipts(rows)
	if err != nil {
		slog.Error("SQLiteStore GetGenerationReceipts scan failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore GetGenerationReceipts succeeded", "count", len(receipts))
	return receipts, nil
}

// ClearGenerationReceipts deletes all records in the receipts table.
func (s *SQLiteStore) ClearGenerationReceipts() error {
	if _, err := s.db.Exec(`DELETE FROM generation_receipts`); err != nil {
		return fmt.Errorf("failed to clear receipts: %w", err)
	}
	return nil
}

// PruneGenerationReceipts deletes receipts completed before the cutoff.
func (s *SQLiteStore) PruneGenerationReceipts(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM generation_receipts WHERE completed_at < ?`, before.UTC())
	if err != nil {
		slog.Error("SQLiteStore PruneGenerationReceipts failed", "error", err)
		return 0, fmt.Errorf("failed to prune receipts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned receipts: %w", err)
	}
	slog.Debug("SQLiteStore PruneGenerationReceipts succeeded", "pruned", n, "before", before)
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database")
	return s.db.Close()
}

// scanReceipts reads every receipt row.
func scanReceipts(rows *sql.Rows) ([]models.GenerationReceipt, error) {
	var receipts []models.GenerationReceipt
	for rows.Next() {
		var r models.GenerationReceipt
		var outcome string
		if err := rows.Scan(&r.ID, &r.SessionID, &outcome, &r.PromptLength, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.Outcome = models.GenerationOutcome(outcome)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}
