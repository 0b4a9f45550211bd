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
	// consolidationMinTotal: characters with fewer memories than this are
	// left alone entirely.
	consolidationMinTotal = 10

	// consolidationMinPerCategory: categories with fewer members than this
	// are skipped.
	consolidationMinPerCategory = 5

	// consolidationSimilarity is the cosine similarity above which two
	// memories in the same category count as near-duplicates.
	consolidationSimilarity = 0.85

	// survivorBoost multiplies the survivor's importance, clamped to 1.
	survivorBoost = 1.2
)

// ConsolidationResult reports what a consolidation pass did.
type ConsolidationResult struct {
	// Processed is the number of memories examined.
	Processed int

	// Consolidated is the number of duplicate memories deleted.
	Consolidated int
}

// ConsolidateMemories merges near-duplicate memories per category.
//
// Grouping is a greedy single pass: memories are compared pairwise in listing
// order and a memory already assigned to a group is not reconsidered for a
// later group. In each group the highest-importance member survives with its
// importance boosted, the merged ids recorded in its metadata, and the rest
// deleted through the standard delete path. Core memories are never
// candidates, regardless of similarity.
func (s *Store) ConsolidateMemories(ctx context.Context, characterID string) (ConsolidationResult, error) {
	var result ConsolidationResult
	if characterID == "" {
		return result, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}

	total, err := s.repo.CountByCharacter(ctx, characterID)
	if err != nil {
		return result, fmt.Errorf("count memories: %w", err)
	}
	if total < consolidationMinTotal {
		return result, nil
	}

	memories, err := s.repo.ListByCharacter(ctx, characterID, storage.ListFilter{})
	if err != nil {
		return result, fmt.Errorf("load memories for consolidation: %w", err)
	}

	byCategory := make(map[types.Category][]*types.MemoryRecord)
	for _, m := range memories {
		if m.IsCore() {
			continue
		}
		byCategory[m.Category] = append(byCategory[m.Category], m)
	}

	for _, members := range byCategory {
		if len(members) < consolidationMinPerCategory {
			continue
		}
		result.Processed += len(members)

		for _, group := range groupNearDuplicates(members) {
			deleted, err := s.mergeGroup(ctx, group)
			result.Consolidated += deleted
			if err != nil {
				return result, err
			}
		}
	}

	s.cache.Invalidate(characterID)
	return result, nil
}

// groupNearDuplicates partitions members into transitive similarity groups
// with a greedy first-pass assignment: once a memory joins a group it is
// never moved, even if a later seed is more similar.
func groupNearDuplicates(members []*types.MemoryRecord) [][]*types.MemoryRecord {
	var groups [][]*types.MemoryRecord
	assigned := make(map[string]bool, len(members))

	for i, seed := range members {
		if assigned[seed.ID] || len(seed.Embedding) == 0 {
			continue
		}
		group := []*types.MemoryRecord{seed}
		assigned[seed.ID] = true

		for _, other := range members[i+1:] {
			if assigned[other.ID] || len(other.Embedding) == 0 {
				continue
			}
			// Transitive membership: similarity to any current member
			// admits the candidate.
			for _, member := range group {
				if vector.Cosine(member.Embedding, other.Embedding) > consolidationSimilarity {
					group = append(group, other)
					assigned[other.ID] = true
					break
				}
			}
		}

		if len(group) > 1 {
			groups = append(groups, group)
		}
	}
	return groups
}

// mergeGroup keeps the highest-importance member and deletes the rest.
// Returns how many members were actually deleted; a failed delete is logged
// and skipped so one bad record does not abort the whole pass.
func (s *Store) mergeGroup(ctx context.Context, group []*types.MemoryRecord) (int, error) {
	survivor := group[0]
	for _, m := range group[1:] {
		if m.Importance > survivor.Importance {
			survivor = m
		}
	}

	var mergedIDs []string
	deleted := 0
	for _, m := range group {
		if m.ID == survivor.ID {
			continue
		}
		if err := s.DeleteMemory(ctx, m.ID); err != nil {
			log.Printf("engine: consolidation failed to delete %s: %v", m.ID, err)
			continue
		}
		mergedIDs = append(mergedIDs, m.ID)
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}

	survivor.Importance = types.ClampUnit(survivor.Importance * survivorBoost)
	survivor.EnsureMetadata().Consolidation = &types.ConsolidationInfo{
		MergedIDs: mergedIDs,
		Count:     deleted,
	}
	if err := s.repo.Update(ctx, survivor); err != nil {
		return deleted, fmt.Errorf("persist consolidation survivor %s: %w", survivor.ID, err)
	}
	return deleted, nil
}
