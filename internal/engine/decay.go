package engine

import (
	"context"
	"fmt"

	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/pkg/types"
)

// defaultDecayDays is assumed when the caller does not say how much time
// passed since the last decay run.
const defaultDecayDays = 30

// ApplyMemoryDecay erodes the importance of every non-core memory the
// character holds, as if daysPassed days went by, and persists the results in
// one batch. Returns the number of memories considered, which includes
// memories whose importance was already at zero.
func (s *Store) ApplyMemoryDecay(ctx context.Context, characterID string, daysPassed float64) (int, error) {
	if characterID == "" {
		return 0, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	if daysPassed <= 0 {
		daysPassed = defaultDecayDays
	}

	memories, err := s.repo.ListByCharacter(ctx, characterID, storage.ListFilter{})
	if err != nil {
		return 0, fmt.Errorf("load memories for decay: %w", err)
	}

	updates := make(map[string]float64)
	considered := 0
	for _, m := range memories {
		if m.IsCore() {
			continue
		}
		considered++
		decayed := DecayedImportance(m, daysPassed)
		if decayed != m.Importance {
			updates[m.ID] = decayed
		}
	}

	if len(updates) > 0 {
		if err := s.repo.UpdateImportances(ctx, updates); err != nil {
			return 0, fmt.Errorf("persist decayed importances: %w", err)
		}
	}

	s.cache.Invalidate(characterID)
	return considered, nil
}

// DecayMemories applies the decay formula to an in-memory batch without
// persisting, mutating each non-core record's importance in place. Core
// records pass through untouched.
func DecayMemories(memories []*types.MemoryRecord, daysPassed float64) []*types.MemoryRecord {
	for _, m := range memories {
		m.Importance = DecayedImportance(m, daysPassed)
	}
	return memories
}
