package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/council/internal/extractor"
	"github.com/scrypster/council/internal/llm"
	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/internal/vector"
	"github.com/scrypster/council/pkg/types"
)

// storeBatchSize bounds how many records a batch store writes concurrently.
// Chunks are sequence points: a chunk finishes before the next one starts.
const storeBatchSize = 10

// Config tunes the store.
type Config struct {
	// CacheSize is the per-character search cache capacity.
	CacheSize int

	// Breaker, when set, guards every embedding call.
	Breaker *llm.Breaker
}

// Store is the single entry point for the memory lifecycle. It keeps the
// relational repository and the vector index in sync: every create, update
// and delete touches both, with the embedding computed before the index
// insert and best-effort rollback when the second write fails.
type Store struct {
	repo      storage.MemoryRepository
	index     vector.Index
	embedder  llm.Embedder
	breaker   *llm.Breaker
	evaluator *Evaluator
	cache     *searchCache

	now func() time.Time
}

// NewStore wires a store from its collaborators. repo, index and embedder
// are all required.
func NewStore(repo storage.MemoryRepository, index vector.Index, embedder llm.Embedder, cfg Config) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("memory repository is required")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Store{
		repo:      repo,
		index:     index,
		embedder:  embedder,
		breaker:   cfg.Breaker,
		evaluator: NewEvaluator(),
		cache:     newSearchCache(cfg.CacheSize),
		now:       time.Now,
	}, nil
}

// StoreMemory persists a draft, filling every defaulted field: id, category
// and importance (heuristic when absent), embedding, timestamp, decay rate
// and content hash. The record is written to the relational store first and
// then to the vector index; an index failure rolls the relational write back.
func (s *Store) StoreMemory(ctx context.Context, draft *types.MemoryRecord) (*types.MemoryRecord, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: draft is required", storage.ErrInvalidInput)
	}
	if draft.CharacterID == "" {
		return nil, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	content := strings.TrimSpace(draft.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if len(content) > types.MaxContentLength {
		return nil, fmt.Errorf("%w: content exceeds %d characters", storage.ErrInvalidInput, types.MaxContentLength)
	}

	rec := *draft
	rec.Content = content

	inferredCategory, inferredImportance := extractor.Categorize(content)
	if !rec.Category.Valid() {
		rec.Category = inferredCategory
	}
	if rec.Importance <= 0 || rec.Importance > 1 {
		rec.Importance = inferredImportance
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if rec.DecayRate == 0 && !rec.IsCore() {
		rec.DecayRate = rec.Category.DefaultDecayRate()
	}
	rec.ID = uuid.NewString()
	rec.AccessCount = 0
	rec.ContentHash = contentHash(content)
	rec.CreatedAt = s.now()
	rec.UpdatedAt = rec.CreatedAt

	if len(rec.Embedding) == 0 {
		vec, err := s.embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("embed memory content: %w", err)
		}
		rec.Embedding = vec
	}

	if err := s.repo.Create(ctx, &rec); err != nil {
		return nil, fmt.Errorf("persist memory: %w", err)
	}

	tags := vector.Tags{CharacterID: rec.CharacterID, Category: rec.Category}
	if err := s.index.AddItem(ctx, rec.ID, rec.Embedding, tags); err != nil {
		// Roll the relational write back so the two stores stay in sync.
		if delErr := s.repo.Delete(ctx, rec.ID); delErr != nil {
			log.Printf("engine: orphaned record %s after index failure: %v", rec.ID, delErr)
		}
		return nil, fmt.Errorf("index memory: %w", err)
	}

	s.cache.Invalidate(rec.CharacterID)
	return &rec, nil
}

// StoreMemories persists drafts in chunks of storeBatchSize, writing each
// chunk's records concurrently. Order is preserved within a chunk; the first
// chunk error stops subsequent chunks but completed writes are kept.
func (s *Store) StoreMemories(ctx context.Context, drafts []*types.MemoryRecord) ([]*types.MemoryRecord, error) {
	stored := make([]*types.MemoryRecord, 0, len(drafts))

	for start := 0; start < len(drafts); start += storeBatchSize {
		end := min(start+storeBatchSize, len(drafts))
		chunk := drafts[start:end]

		results := make([]*types.MemoryRecord, len(chunk))
		errs := make([]error, len(chunk))

		var wg sync.WaitGroup
		for i, draft := range chunk {
			i, draft := i, draft
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = s.StoreMemory(ctx, draft)
			}()
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				return stored, fmt.Errorf("store batch item %d: %w", start+i, err)
			}
			stored = append(stored, results[i])
		}
	}
	return stored, nil
}

// GetMemoryByID retrieves one record.
func (s *Store) GetMemoryByID(ctx context.Context, id string) (*types.MemoryRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}
	return s.repo.Get(ctx, id)
}

// UpdateMemory rewrites a record. The content is re-embedded only when it
// actually changed; otherwise the existing vector is kept. The relational
// store is written first and the index second, so an index failure can roll
// back to the record the store still holds.
func (s *Store) UpdateMemory(ctx context.Context, rec *types.MemoryRecord) (*types.MemoryRecord, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("%w: record with id is required", storage.ErrInvalidInput)
	}
	content := strings.TrimSpace(rec.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if len(content) > types.MaxContentLength {
		return nil, fmt.Errorf("%w: content exceeds %d characters", storage.ErrInvalidInput, types.MaxContentLength)
	}

	existing, err := s.repo.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	updated := *rec
	updated.Content = content
	updated.CharacterID = existing.CharacterID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now()
	updated.ClampImportance()

	contentChanged := contentHash(content) != existing.ContentHash
	if contentChanged {
		vec, err := s.embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("re-embed memory content: %w", err)
		}
		updated.Embedding = vec
		updated.ContentHash = contentHash(content)
	} else {
		updated.Embedding = existing.Embedding
		updated.ContentHash = existing.ContentHash
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("persist memory update: %w", err)
	}

	// The indexed tags carry the category, so a category edit must reach
	// the index even when the vector is unchanged.
	if contentChanged || updated.Category != existing.Category {
		tags := vector.Tags{CharacterID: updated.CharacterID, Category: updated.Category}
		if err := s.index.UpdateItem(ctx, updated.ID, updated.Embedding, tags); err != nil {
			// Roll the relational write back so the two stores stay in sync.
			if restoreErr := s.repo.Update(ctx, existing); restoreErr != nil {
				log.Printf("engine: record %s out of sync with index after failed update: %v", updated.ID, restoreErr)
			}
			return nil, fmt.Errorf("update memory index: %w", err)
		}
	}

	s.cache.Invalidate(updated.CharacterID)
	return &updated, nil
}

// DeleteMemory removes a record from both the relational store and the
// vector index.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}

	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if err := s.index.RemoveItem(ctx, rec.CharacterID, id); err != nil {
		// The record is gone; a dangling vector only costs a wasted
		// candidate on future searches, which hydration skips.
		log.Printf("engine: failed to remove %s from vector index: %v", id, err)
	}

	s.cache.Invalidate(rec.CharacterID)
	return nil
}

// ListMemories returns a character's records, newest first, narrowed by the
// filter.
func (s *Store) ListMemories(ctx context.Context, characterID string, f storage.ListFilter) ([]*types.MemoryRecord, error) {
	if characterID == "" {
		return nil, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	return s.repo.ListByCharacter(ctx, characterID, f)
}

// ReindexCharacter loads a character's records from the repository and adds
// every embedded one to the vector index. Records without an embedding are
// re-embedded and persisted. Callers running on a volatile index use this to
// rebuild it at startup.
func (s *Store) ReindexCharacter(ctx context.Context, characterID string) (int, error) {
	if characterID == "" {
		return 0, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}

	records, err := s.repo.ListByCharacter(ctx, characterID, storage.ListFilter{})
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			vec, err := s.embed(ctx, rec.Content)
			if err != nil {
				log.Printf("engine: reindex embed %s failed: %v", rec.ID, err)
				continue
			}
			rec.Embedding = vec
			if err := s.repo.Update(ctx, rec); err != nil {
				log.Printf("engine: reindex persist embedding %s failed: %v", rec.ID, err)
			}
		}
		tags := vector.Tags{CharacterID: rec.CharacterID, Category: rec.Category}
		if err := s.index.AddItem(ctx, rec.ID, rec.Embedding, tags); err != nil {
			return indexed, fmt.Errorf("reindex %s: %w", rec.ID, err)
		}
		indexed++
	}
	return indexed, nil
}

// Close releases the underlying repository.
func (s *Store) Close() error {
	return s.repo.Close()
}

// embed runs the embedding call through the breaker when one is configured.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.breaker == nil {
		return s.embedder.Embed(ctx, text)
	}
	result, err := s.breaker.Execute(ctx, func() (any, error) {
		return s.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
