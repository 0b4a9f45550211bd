package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/pkg/types"
)

// searchCache memoises search results per character. Any write to a
// character's memories invalidates that character's entries wholesale, so a
// cached entry is never stale relative to the store.
type searchCache struct {
	mu       sync.Mutex
	size     int
	byChar   map[string]*lru.Cache[string, []*types.MemoryRecord]
}

func newSearchCache(size int) *searchCache {
	if size <= 0 {
		size = 128
	}
	return &searchCache{
		size:   size,
		byChar: make(map[string]*lru.Cache[string, []*types.MemoryRecord]),
	}
}

// Key derives a cache key from the full set of search parameters. Every
// filter dimension participates, so two searches collide only when they would
// return the same page.
func (c *searchCache) Key(query string, f storage.ListFilter, minScore float64, limit, offset int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.4f|%d|%d|%.4f|%d|%d",
		query, f.Category, f.MinImportance, nano(f.Since), nano(f.Until),
		minScore, limit, offset)))
	return hex.EncodeToString(h[:16])
}

// nano folds a filter bound into the key; the zero time maps to 0 so an
// unset bound keys consistently.
func nano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (c *searchCache) Get(characterID, key string) ([]*types.MemoryRecord, bool) {
	c.mu.Lock()
	cache, ok := c.byChar[characterID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return cache.Get(key)
}

func (c *searchCache) Put(characterID, key string, results []*types.MemoryRecord) {
	c.mu.Lock()
	cache, ok := c.byChar[characterID]
	if !ok {
		// NewCache only fails for a non-positive size, which the
		// constructor guards.
		cache, _ = lru.New[string, []*types.MemoryRecord](c.size)
		c.byChar[characterID] = cache
	}
	c.mu.Unlock()
	cache.Add(key, results)
}

// Invalidate drops every cached search for the character.
func (c *searchCache) Invalidate(characterID string) {
	c.mu.Lock()
	delete(c.byChar, characterID)
	c.mu.Unlock()
}
