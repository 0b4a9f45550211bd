package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/scrypster/council/pkg/types"
)

func fillerContents(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("an ordinary day number %d tending the orchard", i)
	}
	return out
}

func TestConsolidateMergesNearDuplicates(t *testing.T) {
	store, repo, index := newTestStore(t)
	ctx := context.Background()

	// Identical content embeds identically, so the pair is a guaranteed
	// near-duplicate group.
	dup := "the festival of lanterns on the spring equinox"
	storeFixture(t, store, "c1", append(fillerContents(8), dup, dup))

	result, err := store.ConsolidateMemories(ctx, "c1")
	if err != nil {
		t.Fatalf("ConsolidateMemories: %v", err)
	}
	if result.Processed != 10 {
		t.Errorf("processed = %d, want 10", result.Processed)
	}
	if result.Consolidated != 1 {
		t.Errorf("consolidated = %d, want 1", result.Consolidated)
	}
	if n, _ := repo.CountByCharacter(ctx, "c1"); n != 9 {
		t.Errorf("count = %d, want 9 after merging the pair", n)
	}

	var survivor *types.MemoryRecord
	for _, rec := range repo.recs {
		if rec.Content == dup {
			survivor = rec
		}
	}
	if survivor == nil {
		t.Fatal("survivor deleted")
	}
	// Base heuristic importance 0.5, boosted by 1.2.
	if diff := survivor.Importance - 0.6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("survivor importance = %f, want 0.6", survivor.Importance)
	}
	if survivor.Metadata == nil || survivor.Metadata.Consolidation == nil {
		t.Fatal("survivor missing consolidation metadata")
	}
	if survivor.Metadata.Consolidation.Count != 1 || len(survivor.Metadata.Consolidation.MergedIDs) != 1 {
		t.Errorf("consolidation info = %+v", survivor.Metadata.Consolidation)
	}
	// The merged duplicate left the vector index too.
	if _, ok := index.vecs[survivor.Metadata.Consolidation.MergedIDs[0]]; ok {
		t.Error("merged duplicate still indexed")
	}
}

func TestConsolidateSkipsSmallCollections(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	dup := "the same memory twice"
	storeFixture(t, store, "c1", append(fillerContents(7), dup, dup))

	result, err := store.ConsolidateMemories(ctx, "c1")
	if err != nil {
		t.Fatalf("ConsolidateMemories: %v", err)
	}
	if result.Processed != 0 || result.Consolidated != 0 {
		t.Errorf("result = %+v, want no-op below 10 memories", result)
	}
	if n, _ := repo.CountByCharacter(ctx, "c1"); n != 9 {
		t.Errorf("count = %d, want untouched 9", n)
	}
}

func TestConsolidateSkipsSparseCategories(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	// 10 memories total, but the duplicated pair sits in a category with
	// fewer than 5 members.
	storeFixture(t, store, "c1", fillerContents(8))
	dup := "the recipe for winter bread"
	for i := 0; i < 2; i++ {
		if _, err := store.StoreMemory(ctx, &types.MemoryRecord{
			CharacterID: "c1", Content: dup,
			Category: types.CategoryProcedural, Importance: 0.5,
		}); err != nil {
			t.Fatalf("StoreMemory: %v", err)
		}
	}

	result, err := store.ConsolidateMemories(ctx, "c1")
	if err != nil {
		t.Fatalf("ConsolidateMemories: %v", err)
	}
	if result.Consolidated != 0 {
		t.Errorf("consolidated = %d, want 0 (sparse category)", result.Consolidated)
	}
	if n, _ := repo.CountByCharacter(ctx, "c1"); n != 10 {
		t.Errorf("count = %d, want untouched 10", n)
	}
}

func TestConsolidateNeverTouchesCore(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	storeFixture(t, store, "c1", fillerContents(5))
	dup := "I am the last of the Emberline"
	for i := 0; i < 5; i++ {
		if _, err := store.StoreMemory(ctx, &types.MemoryRecord{
			CharacterID: "c1", Content: dup,
			Category: types.CategoryCore, Importance: 0.9,
		}); err != nil {
			t.Fatalf("StoreMemory: %v", err)
		}
	}

	result, err := store.ConsolidateMemories(ctx, "c1")
	if err != nil {
		t.Fatalf("ConsolidateMemories: %v", err)
	}
	if result.Consolidated != 0 {
		t.Errorf("consolidated = %d, want 0", result.Consolidated)
	}
	if n, _ := repo.CountByCharacter(ctx, "c1"); n != 10 {
		t.Errorf("count = %d, core memories must never be merged", n)
	}
}
