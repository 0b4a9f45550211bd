// Package storage provides the persistence contracts for the memory
// subsystem.
//
// The layer is designed with small, focused interfaces so backends can be
// implemented independently: SQLite for the local desktop deployment and
// PostgreSQL (with pgvector) as the scale-up path. One concrete repository
// type exists per entity; all of them satisfy the shared CRUD shape rather
// than dispatching on runtime table names.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/council/pkg/types"
)

// MemoryRepository is the record-oriented store for memory records.
//
// Every query is scoped to exactly one character. Implementations return
// ErrNotFound for operations on a missing id and wrap driver failures so
// callers can distinguish storage errors from validation errors.
type MemoryRepository interface {
	// Create inserts a new record. The caller has already assigned the id
	// and filled every defaulted field.
	Create(ctx context.Context, rec *types.MemoryRecord) error

	// Get retrieves a record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// GetMany retrieves the records for the given ids, preserving the input
	// order. Missing ids are skipped, not errors: vector-index hits may
	// reference records deleted since indexing.
	GetMany(ctx context.Context, ids []string) ([]*types.MemoryRecord, error)

	// ListByCharacter returns the character's records, newest formation
	// first, narrowed by the filter.
	ListByCharacter(ctx context.Context, characterID string, f ListFilter) ([]*types.MemoryRecord, error)

	// CountByCharacter returns the character's total record count.
	CountByCharacter(ctx context.Context, characterID string) (int, error)

	// Update rewrites a record in place. Returns ErrNotFound if absent.
	Update(ctx context.Context, rec *types.MemoryRecord) error

	// Delete removes a record permanently. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// IncrementAccess bumps access_count and last_accessed for the given
	// ids in a single batch. Used as best-effort telemetry after retrieval.
	IncrementAccess(ctx context.Context, ids []string, at time.Time) error

	// UpdateImportances applies a batch of importance writes (0–1 form)
	// keyed by record id. Used by decay and consolidation.
	UpdateImportances(ctx context.Context, importances map[string]float64) error

	// Close releases any resources held by the repository.
	Close() error
}
