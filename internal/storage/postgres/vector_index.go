package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/scrypster/council/internal/vector"
)

// VectorIndex implements vector.Index on the memories table itself: the
// embedding column doubles as the index, so the relational store and the
// vector index can never drift apart on this backend.
type VectorIndex struct {
	db *sql.DB
}

// NewVectorIndex creates an index sharing the repository's pool.
func NewVectorIndex(repo *MemoryRepository) *VectorIndex {
	return &VectorIndex{db: repo.DB()}
}

// AddItem writes the vector onto the already-created row. The tags are
// derived from the row's own columns, so only the embedding needs storing.
func (x *VectorIndex) AddItem(ctx context.Context, id string, vec []float32, _ vector.Tags) error {
	_, err := x.db.ExecContext(ctx,
		`UPDATE memories SET embedding = $1 WHERE id = $2`, pgvector.NewVector(vec), id)
	if err != nil {
		return fmt.Errorf("postgres: index embedding: %w", err)
	}
	return nil
}

// UpdateItem replaces the vector stored under id. Tags are derived from the
// row's own columns, so the repository update already refreshed them.
func (x *VectorIndex) UpdateItem(ctx context.Context, id string, vec []float32, _ vector.Tags) error {
	_, err := x.db.ExecContext(ctx,
		`UPDATE memories SET embedding = $1 WHERE id = $2`, pgvector.NewVector(vec), id)
	if err != nil {
		return fmt.Errorf("postgres: update embedding: %w", err)
	}
	return nil
}

// RemoveItem clears the vector. The row itself is the repository's to
// delete; removing an already-deleted id is a no-op.
func (x *VectorIndex) RemoveItem(ctx context.Context, _ string, id string) error {
	_, err := x.db.ExecContext(ctx,
		`UPDATE memories SET embedding = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: clear embedding: %w", err)
	}
	return nil
}

// SearchByVector returns the k nearest neighbours under cosine similarity.
// pgvector's <=> operator is cosine distance; similarity is 1 - distance.
func (x *VectorIndex) SearchByVector(ctx context.Context, characterID string, vec []float32, k int, f vector.Filter) ([]vector.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, 1 - (embedding <=> $1) AS similarity
		FROM memories
		WHERE character_id = $2 AND embedding IS NOT NULL`
	args := []any{pgvector.NewVector(vec), characterID}

	if f.Category != "" {
		args = append(args, string(f.Category))
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	args = append(args, k)
	query += fmt.Sprintf(` ORDER BY embedding <=> $1 LIMIT $%d`, len(args))

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var h vector.Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate vector hits: %w", err)
	}
	return hits, nil
}
