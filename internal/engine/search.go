package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/internal/vector"
	"github.com/scrypster/council/pkg/types"
)

const (
	// defaultSearchLimit is the page size when the caller does not set one.
	defaultSearchLimit = 10

	// defaultMinScore is the combined-score floor below which a candidate
	// is dropped from search results.
	defaultMinScore = 0.65

	// overFetchFactor compensates for post-search filtering: the vector
	// index is asked for this many times the requested page size.
	overFetchFactor = 3
)

// SearchOptions parameterises a semantic search. Either Query or Embedding
// must be set; Query wins when both are.
type SearchOptions struct {
	CharacterID string
	Query       string
	Embedding   []float32

	// Filter narrows candidates by category, importance and date range.
	Filter storage.ListFilter

	Limit    int
	Offset   int
	MinScore float64
}

func (o *SearchOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = defaultSearchLimit
	}
	if o.MinScore <= 0 {
		o.MinScore = defaultMinScore
	}
}

// SearchMemories runs importance-weighted semantic retrieval.
//
// The index is over-fetched, hits are hydrated from the relational store
// (dropping ids deleted since indexing), importance and date filters are
// re-applied, and the evaluator blends similarity, importance and recency
// into each record's Score. Records below MinScore are dropped, pagination is
// applied, and access counters for the returned page are bumped best-effort.
// Results are cached per character until the next mutation.
func (s *Store) SearchMemories(ctx context.Context, opts SearchOptions) ([]*types.MemoryRecord, error) {
	if opts.CharacterID == "" {
		return nil, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	if opts.Query == "" && len(opts.Embedding) == 0 {
		return nil, fmt.Errorf("%w: a query or an embedding is required", storage.ErrInvalidInput)
	}
	opts.applyDefaults()

	key := s.searchKey(opts)
	if cached, ok := s.cache.Get(opts.CharacterID, key); ok {
		return cached, nil
	}

	queryVec := opts.Embedding
	if opts.Query != "" {
		vec, err := s.embed(ctx, opts.Query)
		if err != nil {
			return nil, fmt.Errorf("embed search query: %w", err)
		}
		queryVec = vec
	}

	hits, err := s.index.SearchByVector(ctx, opts.CharacterID, queryVec,
		opts.Limit*overFetchFactor+opts.Offset, vector.Filter{Category: opts.Filter.Category})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		s.cache.Put(opts.CharacterID, key, nil)
		return nil, nil
	}

	ids := make([]string, len(hits))
	similarity := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		similarity[h.ID] = h.Score
	}

	records, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate search hits: %w", err)
	}

	candidates := records[:0]
	for _, rec := range records {
		if !matchesFilter(rec, opts.Filter) {
			continue
		}
		rec.SemanticSimilarity = similarity[rec.ID]
		candidates = append(candidates, rec)
	}

	scored := s.evaluator.EvaluateMemories(candidates)

	kept := scored[:0]
	for _, rec := range scored {
		if rec.Score >= opts.MinScore {
			kept = append(kept, rec)
		}
	}

	page := paginate(kept, opts.Offset, opts.Limit)

	if len(page) > 0 {
		pageIDs := make([]string, len(page))
		for i, rec := range page {
			pageIDs[i] = rec.ID
		}
		if err := s.repo.IncrementAccess(ctx, pageIDs, s.now()); err != nil {
			log.Printf("engine: failed to bump access counters: %v", err)
		}
	}

	s.cache.Put(opts.CharacterID, key, page)
	return page, nil
}

// ConversationOptions parameterises context retrieval for a conversation
// turn.
type ConversationOptions struct {
	CharacterID string
	Query       string
	Limit       int

	// Distribution reserves slots per category in the selected subset.
	Distribution Distribution

	Filter   storage.ListFilter
	MinScore float64
}

// GetConversationMemories retrieves the memories to feed into a
// conversation: a wide search, narrowed to a diverse subset, with conflicts
// between the selected memories annotated for the caller.
func (s *Store) GetConversationMemories(ctx context.Context, opts ConversationOptions) ([]*types.MemoryRecord, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}

	candidates, err := s.SearchMemories(ctx, SearchOptions{
		CharacterID: opts.CharacterID,
		Query:       opts.Query,
		Filter:      opts.Filter,
		Limit:       opts.Limit * overFetchFactor,
		MinScore:    opts.MinScore,
	})
	if err != nil {
		return nil, err
	}

	selected := s.evaluator.SelectDiverseMemories(candidates, opts.Limit, opts.Distribution)
	s.evaluator.DetectMemoryConflicts(selected)
	return selected, nil
}

func (s *Store) searchKey(opts SearchOptions) string {
	query := opts.Query
	if query == "" {
		// A supplied embedding takes the query's place in the key.
		query = fmt.Sprintf("vec:%x", fingerprint(opts.Embedding))
	}
	return s.cache.Key(query, opts.Filter, opts.MinScore, opts.Limit, opts.Offset)
}

// fingerprint folds a vector into a cheap cache-key component.
func fingerprint(vec []float32) uint64 {
	var h uint64 = 14695981039346656037
	for _, v := range vec {
		h ^= uint64(int64(v * 1e6))
		h *= 1099511628211
	}
	return h
}

func matchesFilter(rec *types.MemoryRecord, f storage.ListFilter) bool {
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if rec.Importance < f.MinImportance {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func paginate(records []*types.MemoryRecord, offset, limit int) []*types.MemoryRecord {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
