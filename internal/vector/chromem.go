package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex implements Index on top of chromem-go, a pure Go embedded
// vector database. Each character gets its own collection so searches never
// cross character boundaries, with the category kept as document metadata for
// secondary filtering.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	tags        map[string]Tags
	mu          sync.RWMutex
}

// NewChromemIndex creates an empty in-process index.
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		tags:        make(map[string]Tags),
	}
}

// collection returns the character's collection, creating it on first use.
func (x *ChromemIndex) collection(characterID string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[characterID]
	x.mu.RUnlock()
	if ok {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if col, ok := x.collections[characterID]; ok {
		return col, nil
	}

	col, err := x.db.CreateCollection("character_"+characterID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: create collection for character %s: %w", characterID, err)
	}
	x.collections[characterID] = col
	return col, nil
}

// AddItem indexes a vector under id with its filterable tags.
func (x *ChromemIndex) AddItem(ctx context.Context, id string, vec []float32, tags Tags) error {
	if tags.CharacterID == "" {
		return fmt.Errorf("vector: character id is required")
	}
	col, err := x.collection(tags.CharacterID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Embedding: vec,
		Content:   id, // chromem requires non-empty content; vectors are supplied, never re-embedded
		Metadata: map[string]string{
			"character_id": tags.CharacterID,
			"category":     string(tags.Category),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("vector: add %s: %w", id, err)
	}

	x.mu.Lock()
	x.tags[id] = tags
	x.mu.Unlock()
	return nil
}

// UpdateItem replaces the vector stored under id with the tags supplied by
// the caller. Re-adding a document with the same id overwrites it in chromem,
// so a category change takes effect for filtered searches immediately.
func (x *ChromemIndex) UpdateItem(ctx context.Context, id string, vec []float32, tags Tags) error {
	return x.AddItem(ctx, id, vec, tags)
}

// RemoveItem drops id from the index. Unknown ids are a no-op.
func (x *ChromemIndex) RemoveItem(ctx context.Context, characterID, id string) error {
	col, err := x.collection(characterID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("vector: remove %s: %w", id, err)
	}
	x.mu.Lock()
	delete(x.tags, id)
	x.mu.Unlock()
	return nil
}

// SearchByVector returns up to k nearest neighbours under cosine similarity.
// chromem rejects nResults larger than the collection, so k is clamped to the
// current document count.
func (x *ChromemIndex) SearchByVector(ctx context.Context, characterID string, vec []float32, k int, f Filter) ([]Hit, error) {
	col, err := x.collection(characterID)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	where := map[string]string{"character_id": characterID}
	if f.Category != "" {
		where["category"] = string(f.Category)
	}

	results, err := col.QueryEmbedding(ctx, vec, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: query character %s: %w", characterID, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

var _ Index = (*ChromemIndex)(nil)
