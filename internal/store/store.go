// Package store provides storage backends for Pixwave generation receipts.
//
// It includes an in-memory store and persistent SQLite and PostgreSQL stores.
// Receipts never carry prompt text or image references.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/Pixwave/internal/models"
)

// Store defines the interface for generation receipt storage backends.
type Store interface {
	AddGenerationReceipt(r models.GenerationReceipt) error
	GetGenerationReceipts() ([]models.GenerationReceipt, error)
	ClearGenerationReceipts() error
	// PruneGenerationReceipts deletes receipts completed before the cutoff and
	// returns how many were removed.
	PruneGenerationReceipts(before time.Time) (int64, error)
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // Data source name for database connections
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the DSN for PostgreSQL store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the DSN (file path) for SQLite store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL URLs and keyword DSNs and
// "sqlite" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a simple in-memory store for receipts.
type InMemoryStore struct {
	mu       sync.RWMutex
	receipts []models.GenerationReceipt
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// AddGenerationReceipt stores a receipt.
func (s *InMemoryStore) AddGenerationReceipt(r models.GenerationReceipt) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetGenerationReceipts returns all receipts ordered by completion time.
func (s *InMemoryStore) GetGenerationReceipts() ([]models.GenerationReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.GenerationReceipt, len(s.receipts))
	copy(out, s.receipts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(out[j].CompletedAt)
	})
	return out, nil
}

// ClearGenerationReceipts removes all receipts.
func (s *InMemoryStore) ClearGenerationReceipts() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = nil
	return nil
}

// PruneGenerationReceipts removes receipts completed before the cutoff.
func (s *InMemoryStore) PruneGenerationReceipts(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.receipts[:0]
	for _, r := range s.receipts {
		if !r.CompletedAt.Before(before) {
			kept = append(kept, r)
		}
	}
	pruned := int64(len(s.receipts) - len(kept))
	s.receipts = kept
	return pruned, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
