package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/pkg/types"
)

// newTestRepo creates an in-memory SQLite repository.
func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	repo, err := NewMemoryRepository(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testRecord(id, characterID string) *types.MemoryRecord {
	now := time.Now().UTC().Truncate(time.Second)
	last := now.Add(-time.Hour)
	return &types.MemoryRecord{
		ID:           id,
		CharacterID:  characterID,
		Content:      "content for " + id,
		Category:     types.CategoryEpisodic,
		Importance:   0.57,
		Embedding:    []float32{0.1, -0.2, 0.3, 0.44},
		Timestamp:    now.Add(-24 * time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
		AccessCount:  3,
		LastAccessed: &last,
		DecayRate:    0.005,
		ContentHash:  "hash-" + id,
		Metadata: &types.Metadata{
			Entities: []types.EntityRef{{Name: "Elias Thorn", Relation: "rival"}},
			Source:   &types.Provenance{Kind: "conversation", Ref: "conv-9"},
		},
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := testRecord("m1", "c1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CharacterID != "c1" || got.Content != rec.Content {
		t.Errorf("basic fields lost: %+v", got)
	}
	if got.Category != types.CategoryEpisodic {
		t.Errorf("category = %s", got.Category)
	}
	// Importance survives the integer scale at 0.01 resolution.
	if got.Importance != 0.57 {
		t.Errorf("importance = %f, want 0.57", got.Importance)
	}
	if len(got.Embedding) != 4 || got.Embedding[1] != -0.2 {
		t.Errorf("embedding = %v", got.Embedding)
	}
	if got.AccessCount != 3 || got.LastAccessed == nil {
		t.Errorf("access telemetry lost: %+v", got)
	}
	if got.Metadata == nil || len(got.Metadata.Entities) != 1 ||
		got.Metadata.Entities[0].Name != "Elias Thorn" {
		t.Errorf("metadata lost: %+v", got.Metadata)
	}
	if got.ContentHash != "hash-m1" || got.DecayRate != 0.005 {
		t.Errorf("hash/decay lost: %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateValidation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cases := []*types.MemoryRecord{
		nil,
		{ID: "", CharacterID: "c1", Content: "x"},
		{ID: "m1", CharacterID: "", Content: "x"},
		{ID: "m1", CharacterID: "c1", Content: ""},
	}
	for i, rec := range cases {
		if err := repo.Create(ctx, rec); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("case %d: err = %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestGetManyPreservesOrderSkipsMissing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, testRecord(id, "c1")); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	got, err := repo.GetMany(ctx, []string{"c", "ghost", "a"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Errorf("GetMany order = %v", []string{got[0].ID, got[1].ID})
	}

	if got, err := repo.GetMany(ctx, nil); err != nil || got != nil {
		t.Errorf("empty GetMany = %v, %v", got, err)
	}
}

func TestListByCharacterFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		rec := testRecord(fmt.Sprintf("m%d", i), "c1")
		rec.Timestamp = now.Add(-time.Duration(i) * 24 * time.Hour)
		rec.Importance = 0.2 * float64(i+1)
		if i%2 == 0 {
			rec.Category = types.CategorySemantic
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.Create(ctx, testRecord("other", "c2")); err != nil {
		t.Fatalf("Create other: %v", err)
	}

	all, err := repo.ListByCharacter(ctx, "c1", storage.ListFilter{})
	if err != nil {
		t.Fatalf("ListByCharacter: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d records, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.After(all[i-1].Timestamp) {
			t.Fatal("listing not newest-first")
		}
	}

	semantic, err := repo.ListByCharacter(ctx, "c1", storage.ListFilter{Category: types.CategorySemantic})
	if err != nil {
		t.Fatalf("category filter: %v", err)
	}
	if len(semantic) != 3 {
		t.Errorf("semantic = %d, want 3", len(semantic))
	}

	important, err := repo.ListByCharacter(ctx, "c1", storage.ListFilter{MinImportance: 0.6})
	if err != nil {
		t.Fatalf("importance filter: %v", err)
	}
	if len(important) != 3 {
		t.Errorf("important = %d, want 3 (0.6, 0.8, 1.0)", len(important))
	}

	recent, err := repo.ListByCharacter(ctx, "c1", storage.ListFilter{Since: now.Add(-36 * time.Hour)})
	if err != nil {
		t.Fatalf("date filter: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent = %d, want 2", len(recent))
	}

	paged, err := repo.ListByCharacter(ctx, "c1", storage.ListFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("pagination: %v", err)
	}
	if len(paged) != 2 || paged[0].ID != "m1" {
		t.Errorf("paged = %d starting %s, want 2 starting m1", len(paged), paged[0].ID)
	}
}

func TestCountByCharacter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := repo.Create(ctx, testRecord(id, "c1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if n, _ := repo.CountByCharacter(ctx, "c1"); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if n, _ := repo.CountByCharacter(ctx, "unknown"); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := testRecord("m1", "c1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec.Content = "revised content"
	rec.Importance = 0.9
	rec.Embedding = []float32{1, 2, 3}
	rec.Metadata.Notes = "edited by author"
	if err := repo.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := repo.Get(ctx, "m1")
	if got.Content != "revised content" || got.Importance != 0.9 {
		t.Errorf("update lost: %+v", got)
	}
	if len(got.Embedding) != 3 || got.Metadata.Notes != "edited by author" {
		t.Errorf("embedding/metadata lost: %+v", got)
	}

	missing := testRecord("ghost", "c1")
	if err := repo.Update(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("update missing err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testRecord("m1", "c1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("record still present after delete")
	}
	if err := repo.Delete(ctx, "m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestIncrementAccess(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := testRecord("a", "c1")
	a.AccessCount = 0
	a.LastAccessed = nil
	b := testRecord("b", "c1")
	b.AccessCount = 7
	for _, rec := range []*types.MemoryRecord{a, b} {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := repo.IncrementAccess(ctx, []string{"a", "b"}, at); err != nil {
		t.Fatalf("IncrementAccess: %v", err)
	}

	gotA, _ := repo.Get(ctx, "a")
	if gotA.AccessCount != 1 || gotA.LastAccessed == nil || !gotA.LastAccessed.Equal(at) {
		t.Errorf("a telemetry = %d/%v", gotA.AccessCount, gotA.LastAccessed)
	}
	gotB, _ := repo.Get(ctx, "b")
	if gotB.AccessCount != 8 {
		t.Errorf("b count = %d, want 8", gotB.AccessCount)
	}

	if err := repo.IncrementAccess(ctx, nil, at); err != nil {
		t.Errorf("empty increment: %v", err)
	}
}

func TestUpdateImportancesBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, testRecord(id, "c1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	err := repo.UpdateImportances(ctx, map[string]float64{"a": 0.12, "c": 0.99})
	if err != nil {
		t.Fatalf("UpdateImportances: %v", err)
	}

	gotA, _ := repo.Get(ctx, "a")
	if gotA.Importance != 0.12 {
		t.Errorf("a importance = %f, want 0.12", gotA.Importance)
	}
	gotB, _ := repo.Get(ctx, "b")
	if gotB.Importance != 0.57 {
		t.Errorf("b importance = %f, want untouched 0.57", gotB.Importance)
	}
	gotC, _ := repo.Get(ctx, "c")
	if gotC.Importance != 0.99 {
		t.Errorf("c importance = %f, want 0.99", gotC.Importance)
	}
}

func TestNilEmbeddingAndMetadata(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := testRecord("bare", "c1")
	rec.Embedding = nil
	rec.Metadata = nil
	rec.LastAccessed = nil
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "bare")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Embedding != nil || got.Metadata != nil || got.LastAccessed != nil {
		t.Errorf("nil fields not preserved: %+v", got)
	}
}
