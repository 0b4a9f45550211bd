package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/internal/vector"
	"github.com/scrypster/council/pkg/types"
)

// postgresTestDSN returns the DSN for the test database. Tests are skipped
// when POSTGRES_TEST_DSN is not set; these are integration tests that need a
// real server with pgvector installed.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	repo, err := NewMemoryRepository(postgresTestDSN(t))
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		_, _ = repo.db.Exec("TRUNCATE TABLE memories")
		_ = repo.Close()
	})
	if _, err := repo.db.Exec("TRUNCATE TABLE memories"); err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}
	return repo
}

func testRecord(id, characterID string, embedding []float32) *types.MemoryRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.MemoryRecord{
		ID:          id,
		CharacterID: characterID,
		Content:     "content for " + id,
		Category:    types.CategoryEpisodic,
		Importance:  0.57,
		Embedding:   embedding,
		Timestamp:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
		DecayRate:   0.005,
		ContentHash: "hash-" + id,
		Metadata: &types.Metadata{
			Source: &types.Provenance{Kind: "conversation", Ref: "conv-1"},
		},
	}
}

// unitVec returns a 384-dim unit vector pointing along the given axis.
func unitVec(axis int) []float32 {
	vec := make([]float32, 384)
	vec[axis] = 1
	return vec
}

func TestCreateGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := testRecord("m1", "c1", unitVec(0))
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Importance != 0.57 || got.Category != types.CategoryEpisodic {
		t.Errorf("fields lost: %+v", got)
	}
	if len(got.Embedding) != 384 || got.Embedding[0] != 1 {
		t.Errorf("embedding lost: len=%d", len(got.Embedding))
	}
	if got.Metadata == nil || got.Metadata.Source == nil || got.Metadata.Source.Ref != "conv-1" {
		t.Errorf("metadata lost: %+v", got.Metadata)
	}

	if _, err := repo.Get(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing get err = %v, want ErrNotFound", err)
	}
}

func TestGetManyAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		rec := testRecord(id, "c1", unitVec(i))
		rec.Timestamp = rec.Timestamp.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	got, err := repo.GetMany(ctx, []string{"c", "ghost", "a"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Errorf("GetMany order broken")
	}

	listed, err := repo.ListByCharacter(ctx, "c1", storage.ListFilter{})
	if err != nil {
		t.Fatalf("ListByCharacter: %v", err)
	}
	if len(listed) != 3 || listed[0].ID != "c" {
		t.Errorf("listing not newest-first: %+v", listed)
	}

	if n, _ := repo.CountByCharacter(ctx, "c1"); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestUpdateDeleteAndBatches(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := testRecord("m1", "c1", unitVec(0))
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec.Content = "revised"
	rec.Importance = 0.9
	if err := repo.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := repo.Get(ctx, "m1")
	if got.Content != "revised" || got.Importance != 0.9 {
		t.Errorf("update lost: %+v", got)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := repo.IncrementAccess(ctx, []string{"m1"}, at); err != nil {
		t.Fatalf("IncrementAccess: %v", err)
	}
	got, _ = repo.Get(ctx, "m1")
	if got.AccessCount != 1 || got.LastAccessed == nil {
		t.Errorf("telemetry lost: %+v", got)
	}

	if err := repo.UpdateImportances(ctx, map[string]float64{"m1": 0.25}); err != nil {
		t.Fatalf("UpdateImportances: %v", err)
	}
	got, _ = repo.Get(ctx, "m1")
	if got.Importance != 0.25 {
		t.Errorf("importance = %f, want 0.25", got.Importance)
	}

	if err := repo.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestVectorSearch(t *testing.T) {
	repo := newTestRepo(t)
	index := NewVectorIndex(repo)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, testRecord(id, "c1", unitVec(i))); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := repo.Create(ctx, testRecord("other", "c2", unitVec(0))); err != nil {
		t.Fatalf("Create other: %v", err)
	}

	hits, err := index.SearchByVector(ctx, "c1", unitVec(0), 10, vector.Filter{})
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3 (character scoped)", len(hits))
	}
	if hits[0].ID != "a" || hits[0].Score < 0.999 {
		t.Errorf("top hit = %s/%f, want a/1.0", hits[0].ID, hits[0].Score)
	}

	// Clearing the embedding drops the record from search.
	if err := index.RemoveItem(ctx, "c1", "a"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	hits, err = index.SearchByVector(ctx, "c1", unitVec(0), 10, vector.Filter{})
	if err != nil {
		t.Fatalf("SearchByVector after remove: %v", err)
	}
	for _, h := range hits {
		if h.ID == "a" {
			t.Error("removed item still searchable")
		}
	}
}
