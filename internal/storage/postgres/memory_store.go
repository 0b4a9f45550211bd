// Package postgres implements the memory repository on PostgreSQL with
// pgvector, the scale-up backend. Unlike the SQLite deployment, which pairs
// the repository with an external vector index, this backend runs similarity
// search inside the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/pkg/types"
)

// MemoryRepository implements storage.MemoryRepository using PostgreSQL.
type MemoryRepository struct {
	db *sql.DB
}

// NewMemoryRepository opens a PostgreSQL connection pool and applies the
// schema. The pgvector extension is required: the embedding column and the
// similarity index depend on it.
func NewMemoryRepository(dsn string) (*MemoryRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: pgvector extension is required: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	return &MemoryRepository{db: db}, nil
}

const memoryColumns = `id, character_id, content, category, importance, embedding,
	timestamp, created_at, updated_at, access_count, last_accessed_at,
	decay_rate, content_hash, metadata`

// Create inserts a new record.
func (r *MemoryRepository) Create(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record with id is required", storage.ErrInvalidInput)
	}
	if rec.CharacterID == "" {
		return fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	if rec.Content == "" {
		return fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO memories (` + memoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.CharacterID,
		rec.Content,
		string(rec.Category),
		types.ImportanceToScale(rec.Importance),
		nullableVector(rec.Embedding),
		rec.Timestamp,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.AccessCount,
		nullableTime(rec.LastAccessed),
		rec.DecayRate,
		rec.ContentHash,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert memory: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (r *MemoryRepository) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	rec, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return rec, err
}

// GetMany retrieves records by id, preserving input order and skipping
// missing ids.
func (r *MemoryRepository) GetMany(ctx context.Context, ids []string) ([]*types.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: query memories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.MemoryRecord, len(ids))
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate memories: %w", err)
	}

	out := make([]*types.MemoryRecord, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListByCharacter returns the character's records newest first.
func (r *MemoryRepository) ListByCharacter(ctx context.Context, characterID string, f storage.ListFilter) ([]*types.MemoryRecord, error) {
	if characterID == "" {
		return nil, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE character_id = $1`
	args := []any{characterID}

	if f.Category != "" {
		args = append(args, string(f.Category))
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if f.MinImportance > 0 {
		args = append(args, types.ImportanceToScale(f.MinImportance))
		query += fmt.Sprintf(` AND importance >= $%d`, len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(` AND timestamp >= $%d`, len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(` AND timestamp <= $%d`, len(args))
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memories: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate memories: %w", err)
	}
	return out, nil
}

// CountByCharacter returns the character's total record count.
func (r *MemoryRepository) CountByCharacter(ctx context.Context, characterID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE character_id = $1`, characterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count memories: %w", err)
	}
	return n, nil
}

// Update rewrites a record in place.
func (r *MemoryRepository) Update(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record with id is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE memories SET
			content = $1, category = $2, importance = $3, embedding = $4,
			timestamp = $5, updated_at = $6, access_count = $7,
			last_accessed_at = $8, decay_rate = $9, content_hash = $10,
			metadata = $11
		WHERE id = $12`,
		rec.Content,
		string(rec.Category),
		types.ImportanceToScale(rec.Importance),
		nullableVector(rec.Embedding),
		rec.Timestamp,
		rec.UpdatedAt,
		rec.AccessCount,
		nullableTime(rec.LastAccessed),
		rec.DecayRate,
		rec.ContentHash,
		metadataJSON,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update memory: %w", err)
	}
	return requireRowAffected(result)
}

// Delete removes a record permanently.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete memory: %w", err)
	}
	return requireRowAffected(result)
}

// IncrementAccess bumps access telemetry for the given ids in one batch.
func (r *MemoryRepository) IncrementAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = ANY($2)`, at, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("postgres: increment access: %w", err)
	}
	return nil
}

// UpdateImportances applies a batch of importance writes in one transaction.
func (r *MemoryRepository) UpdateImportances(ctx context.Context, importances map[string]float64) error {
	if len(importances) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin importance batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET importance = $1 WHERE id = $2`)
	if err != nil {
		return fmt.Errorf("postgres: prepare importance update: %w", err)
	}
	defer stmt.Close()

	for id, importance := range importances {
		if _, err := stmt.ExecContext(ctx, types.ImportanceToScale(importance), id); err != nil {
			return fmt.Errorf("postgres: update importance for %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit importance batch: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *MemoryRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying pool so the vector index can share it.
func (r *MemoryRepository) DB() *sql.DB {
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

// nullVector mirrors sql.Null[pgvector.Vector] (Go 1.22+) for the Go 1.21
// toolchain: it scans SQL NULL as Valid=false and defers to Vector.Scan
// otherwise.
type nullVector struct {
	V     pgvector.Vector
	Valid bool
}

func (n *nullVector) Scan(value any) error {
	if value == nil {
		n.V, n.Valid = pgvector.Vector{}, false
		return nil
	}
	n.Valid = true
	return n.V.Scan(value)
}

func scanMemory(row rowScanner) (*types.MemoryRecord, error) {
	var (
		rec          types.MemoryRecord
		category     string
		importance   int
		embedding    nullVector
		lastAccessed sql.NullTime
		metadataJSON []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.CharacterID,
		&rec.Content,
		&category,
		&importance,
		&embedding,
		&rec.Timestamp,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.AccessCount,
		&lastAccessed,
		&rec.DecayRate,
		&rec.ContentHash,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: scan memory: %w", err)
	}

	rec.Category = types.Category(category)
	rec.Importance = types.ImportanceFromScale(importance)
	if embedding.Valid {
		rec.Embedding = embedding.V.Slice()
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		rec.LastAccessed = &t
	}
	if len(metadataJSON) > 0 {
		var md types.Metadata
		if err := json.Unmarshal(metadataJSON, &md); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal metadata for %s: %w", rec.ID, err)
		}
		rec.Metadata = &md
	}
	return &rec, nil
}

func marshalMetadata(md *types.Metadata) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal metadata: %w", err)
	}
	return raw, nil
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableVector(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}
