// Package store provides storage backends for Pixwave.
//
// This file implements a PostgreSQL-backed store for generation receipts.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/Pixwave/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists receipts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// AddGenerationReceipt inserts a receipt.
func (s *PostgresStore) AddGenerationReceipt(r models.GenerationReceipt) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO generation_receipts (id, session_id, outcome, prompt_length, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.SessionID, string(r.Outcome), r.PromptLength, r.StartedAt, r.CompletedAt)
	if err != nil {
		slog.Error("PostgresStore AddGenerationReceipt failed", "error", err, "session", r.SessionID)
		return fmt.Errorf("failed to insert receipt for session %s: %w", r.SessionID, err)
	}
	slog.Debug("PostgresStore AddGenerationReceipt succeeded", "id", r.ID, "outcome", r.Outcome)
	return nil
}

// GetGenerationReceipts returns all receipts ordered by completion time.
func (s *PostgresStore) GetGenerationReceipts() ([]models.GenerationReceipt, error) {
	rows, err := s.db.Query(`SELECT id, session_id, outcome, prompt_length, started_at, completed_at
		FROM generation_receipts ORDER BY completed_at ASC`)
	if err != nil {
		slog.Error("PostgresStore GetGenerationReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	receipts, err := scanReceipts(rows)
	if err != nil {
		slog.Error("PostgresStore GetGenerationReceipts scan failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore GetGenerationReceipts succeeded", "count", len(receipts))
	return receipts, nil
}

// ClearGenerationReceipts deletes all records in the receipts table.
func (s *PostgresStore) ClearGenerationReceipts() error {
	if _, err := s.db.Exec(`DELETE FROM generation_receipts`); err != nil {
		return fmt.Errorf("failed to clear receipts: %w", err)
	}
	return nil
}

// PruneGenerationReceipts deletes receipts completed before the cutoff.
func (s *PostgresStore) PruneGenerationReceipts(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM generation_receipts WHERE completed_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore PruneGenerationReceipts failed", "error", err)
		return 0, fmt.Errorf("failed to prune receipts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned receipts: %w", err)
	}
	slog.Debug("PostgresStore PruneGenerationReceipts succeeded", "pruned", n, "before", before)
	return n, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database")
	return s.db.Close()
}
