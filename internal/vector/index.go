// Package vector defines the vector-index collaborator used for semantic
// retrieval, plus the cosine similarity primitive shared by the evaluator and
// the consolidator.
package vector

import (
	"context"
	"math"

	"github.com/scrypster/council/pkg/types"
)

// Tags are the filterable attributes attached to an indexed vector.
type Tags struct {
	CharacterID string
	Category    types.Category
}

// Filter narrows a vector search. The character scope is mandatory and passed
// separately; Category is optional.
type Filter struct {
	Category types.Category
}

// Hit is a single vector-search result, ranked descending by similarity.
type Hit struct {
	ID    string
	Score float64
}

// Index keeps one vector per memory record id, tagged for filtering. The
// engine is responsible for keeping it in sync with the relational store.
type Index interface {
	// AddItem indexes a vector under id with its filterable tags.
	AddItem(ctx context.Context, id string, vec []float32, tags Tags) error

	// UpdateItem replaces the vector stored under id and refreshes its
	// filterable tags.
	UpdateItem(ctx context.Context, id string, vec []float32, tags Tags) error

	// RemoveItem drops id from the index. Removing an unknown id is a no-op.
	RemoveItem(ctx context.Context, characterID, id string) error

	// SearchByVector returns up to k nearest neighbours of vec under cosine
	// similarity, restricted to the character and the optional filter.
	SearchByVector(ctx context.Context, characterID string, vec []float32, k int, f Filter) ([]Hit, error)
}

// Cosine computes cosine similarity between two equal-length vectors.
// Returns 0 if either vector has zero magnitude or lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
