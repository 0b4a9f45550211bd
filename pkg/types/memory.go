// Package types defines the shared domain model for the Character Council
// memory subsystem. A MemoryRecord is the atomic unit of persisted character
// knowledge: free-text content plus a vector embedding, an importance weight,
// and category-dependent decay behaviour.
package types

import (
	"math"
	"time"
)

// Category classifies a memory by the kind of knowledge it holds.
// Core memories are foundational to character identity: they never decay and
// are never removed by consolidation.
type Category string

const (
	CategoryEpisodic      Category = "episodic"
	CategorySemantic      Category = "semantic"
	CategoryProcedural    Category = "procedural"
	CategoryEmotional     Category = "emotional"
	CategoryCore          Category = "core"
	CategoryAuthorDefined Category = "author-defined"
)

// MaxContentLength is the upper bound on memory content length in characters.
const MaxContentLength = 10000

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryEpisodic, CategorySemantic, CategoryProcedural,
		CategoryEmotional, CategoryCore, CategoryAuthorDefined:
		return true
	}
	return false
}

// DefaultDecayRate returns the per-category importance erosion rate in
// importance units per day. Core memories are exempt from decay entirely.
func (c Category) DefaultDecayRate() float64 {
	switch c {
	case CategoryCore:
		return 0
	case CategoryEpisodic:
		return 0.005
	case CategoryEmotional:
		return 0.004
	case CategorySemantic:
		return 0.002
	case CategoryProcedural:
		return 0.001
	default:
		return 0.002
	}
}

// DefaultImportance returns the importance assigned when a record arrives
// without one.
func (c Category) DefaultImportance() float64 {
	switch c {
	case CategoryCore:
		return 0.9
	case CategoryAuthorDefined:
		return 0.8
	case CategoryEmotional:
		return 0.6
	default:
		return 0.5
	}
}

// MemoryRecord is a single retrievable unit of character knowledge.
//
// CharacterID and Content are required and immutable after creation; a content
// edit keeps the id and forces the embedding to be regenerated. Importance is
// always within [0, 1] after any adjustment. The embedding dimension is fixed
// per deployment and identical for every stored and query vector.
type MemoryRecord struct {
	ID          string   `json:"id"`
	CharacterID string   `json:"character_id"`
	Content     string   `json:"content"`
	Category    Category `json:"category"`

	// Importance weights how foundational this memory is to the character,
	// in [0, 1]. Persisted as an integer 0–100 (see ImportanceToScale).
	Importance float64 `json:"importance"`

	// Embedding is computed from Content and recomputed whenever Content
	// changes. Never hand-edited.
	Embedding []float32 `json:"embedding,omitempty"`

	// Timestamp is when the memory was formed, not when the record was
	// created. Event-derived memories inherit the event's date.
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Access telemetry, updated best-effort on every retrieval. Not used
	// directly for scoring.
	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	// DecayRate is the per-day importance erosion constant. Zero for core.
	DecayRate float64 `json:"decay_rate"`

	// ContentHash is the SHA-256 of Content, stored for diagnostics.
	ContentHash string `json:"content_hash,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`

	// Retrieval-time fields, attached by search and never persisted.
	Score              float64 `json:"score,omitempty"`
	SemanticSimilarity float64 `json:"semantic_similarity,omitempty"`
}

// ClampImportance forces Importance back into [0, 1].
func (m *MemoryRecord) ClampImportance() {
	m.Importance = ClampUnit(m.Importance)
}

// IsCore reports whether the record is exempt from decay and consolidation.
func (m *MemoryRecord) IsCore() bool {
	return m.Category == CategoryCore
}

// AgeDays returns the age of the memory in days relative to now, measured
// from Timestamp. Never negative.
func (m *MemoryRecord) AgeDays(now time.Time) float64 {
	days := now.Sub(m.Timestamp).Hours() / 24.0
	if days < 0 {
		return 0
	}
	return days
}

// ClampUnit clamps v to the closed interval [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ImportanceToScale converts a [0, 1] importance to the persisted 0–100
// integer form. The two representations round-trip losslessly for any value
// that is a multiple of 0.01, which is the resolution every scoring path in
// this module produces.
func ImportanceToScale(v float64) int {
	return int(math.Round(ClampUnit(v) * 100))
}

// ImportanceFromScale converts the persisted 0–100 integer form back to the
// [0, 1] float form.
func ImportanceFromScale(n int) float64 {
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return float64(n) / 100.0
}
