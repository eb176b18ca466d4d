package claims

import "testing"

func TestFindDuplicateExactTextMatch(t *testing.T) {
	existing := []Existing{{ID: "c1", Text: "  Water Boils At 100C  "}}
	match, ok := FindDuplicate("water boils at 100c", nil, existing)
	if !ok || match.ID != "c1" {
		t.Fatalf("expected exact-text match on c1, got %+v ok=%v", match, ok)
	}
}

func TestFindDuplicateEmbeddingSimilarity(t *testing.T) {
	existing := []Existing{{ID: "c1", Text: "completely different wording", Embedding: []float32{1, 0, 0}}}
	match, ok := FindDuplicate("a paraphrase of the same idea", []float32{0.99, 0.01, 0}, existing)
	if !ok || match.ID != "c1" {
		t.Fatalf("expected embedding-similarity match on c1, got %+v ok=%v", match, ok)
	}
}

func TestFindDuplicateNoMatch(t *testing.T) {
	existing := []Existing{{ID: "c1", Text: "unrelated claim", Embedding: []float32{1, 0, 0}}}
	_, ok := FindDuplicate("something entirely different", []float32{0, 1, 0}, existing)
	if ok {
		t.Fatal("expected no duplicate match")
	}
}

func TestFindDuplicateEmpty(t *testing.T) {
	if _, ok := FindDuplicate("anything", []float32{1, 0}, nil); ok {
		t.Fatal("expected no match against empty existing set")
	}
}
