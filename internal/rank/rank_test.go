package rank

import "testing"

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestRankOrdersByComposite(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Text: "go concurrency patterns channels goroutines", Embedding: unit(4, 0)},
		{ID: "b", Text: "unrelated cooking recipe pasta", Embedding: unit(4, 1)},
		{ID: "c", Text: "go concurrency channels goroutines advanced patterns", Embedding: unit(4, 0)},
	}
	out := Rank("go concurrency channels", unit(4, 0), candidates, Options{MinResults: 1, MaxResults: 3})
	if len(out) == 0 {
		t.Fatal("expected results")
	}
	if out[0].ID == "b" {
		t.Fatalf("expected the cooking-recipe candidate to rank last, got it first: %+v", out)
	}
}

func TestRankBoundedByMinMaxResults(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 30; i++ {
		candidates = append(candidates, Candidate{ID: string(rune('a' + i)), Text: "filler text about topic", Embedding: unit(2, i%2)})
	}
	out := Rank("topic", unit(2, 0), candidates, Options{MinResults: 2, MaxResults: 10})
	if len(out) < 2 || len(out) > 10 {
		t.Fatalf("expected result count within [2,10], got %d", len(out))
	}
}

func TestRankEmptyCandidates(t *testing.T) {
	if out := Rank("q", unit(2, 0), nil, Options{}); out != nil {
		t.Fatalf("expected nil for no candidates, got %+v", out)
	}
}

func TestRankFlatScoresKeepsMaxResults(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{ID: string(rune('a' + i)), Text: "same same same", Embedding: unit(2, 0)})
	}
	out := Rank("same", unit(2, 0), candidates, Options{MinResults: 1, MaxResults: 5})
	if len(out) != 5 {
		t.Fatalf("expected flat scores to fall back to max_results=5, got %d", len(out))
	}
}

// TestApplyCutoffScenario6PlateauThenCliff reproduces the high-plateau/
// sharp-drop/low-tail ranking curve and checks the cutoff keeps exactly the
// 4 plateau entries, not the first post-drop one too.
func TestApplyCutoffScenario6PlateauThenCliff(t *testing.T) {
	composites := []float64{0.95, 0.92, 0.88, 0.85, 0.6, 0.55, 0.50, 0.45, 0.40, 0.35}
	scored := make([]Scored, len(composites))
	for i, c := range composites {
		scored[i] = Scored{Candidate: Candidate{ID: string(rune('a' + i))}, Composite: c}
	}
	out := applyCutoff(scored, Options{MinResults: 1, MaxResults: 20, KneedleSense: 1.0}.filled())
	if len(out) != 4 {
		t.Fatalf("expected cutoff to keep 4 pre-drop results, got %d", len(out))
	}
}

func TestBM25FavorsTermOverlap(t *testing.T) {
	scores := bm25Scores("channels goroutines", []string{
		"channels goroutines concurrency",
		"completely unrelated text about gardening",
	})
	if scores[0] <= scores[1] {
		t.Fatalf("expected higher bm25 score for overlapping doc, got %v", scores)
	}
}
