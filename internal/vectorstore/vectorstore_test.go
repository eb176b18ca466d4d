package vectorstore

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/store"
)

func unitVec(hot int) []float32 {
	v := make([]float32, store.EmbeddingDim)
	v[hot] = 1
	return v
}

func newTestStore(t *testing.T) (*Store, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory(zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func TestSearchFiltersByTaskScopeForClaims(t *testing.T) {
	s, db := newTestStore(t)

	idA, err := db.PutClaim(store.Claim{TaskID: "t1", ClaimText: "claim in scope"})
	if err != nil {
		t.Fatal(err)
	}
	idB, err := db.PutClaim(store.Claim{TaskID: "t2", ClaimText: "claim out of scope"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.PutEmbedding("claim", idA, "m1", unitVec(0)); err != nil {
		t.Fatal(err)
	}
	if err := s.PutEmbedding("claim", idB, "m1", unitVec(0)); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search("claim", unitVec(0), "t1", 10, -1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].TargetID != idA {
		t.Fatalf("expected only the t1-scoped claim, got %+v", hits)
	}
}

func TestSearchRespectsMinSimilarity(t *testing.T) {
	s, db := newTestStore(t)
	idA, err := db.PutClaim(store.Claim{TaskID: "t1", ClaimText: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutEmbedding("claim", idA, "m1", unitVec(0)); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search("claim", unitVec(1), "t1", 10, 0.99)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected orthogonal vector to be filtered by min_similarity, got %+v", hits)
	}
}

func TestSearchUnscopedWithoutTaskID(t *testing.T) {
	s, db := newTestStore(t)
	idA, err := db.PutClaim(store.Claim{TaskID: "t1", ClaimText: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutEmbedding("claim", idA, "m1", unitVec(0)); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search("claim", unitVec(0), "", 10, -1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit with no task scoping applied, got %+v", hits)
	}
}
