package store

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory(zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestPutPageDedupByURL(t *testing.T) {
	db := newTestDB(t)
	id1, err := db.PutPage(Page{URL: "https://example.com/a", Domain: "example.com", Title: "first"})
	if err != nil {
		t.Fatalf("PutPage: %v", err)
	}
	id2, err := db.PutPage(Page{URL: "https://example.com/a", Domain: "example.com", Title: "second", MetadataJSON: `{"year":2020}`})
	if err != nil {
		t.Fatalf("PutPage (merge): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id on re-observation, got %s vs %s", id1, id2)
	}
	p, err := db.GetPageByURL("https://example.com/a")
	if err != nil || p == nil {
		t.Fatalf("GetPageByURL: %v", err)
	}
	if p.Title != "first" {
		t.Fatalf("title should not be overwritten, got %q", p.Title)
	}
}

func TestPutFragmentDedupByTextHash(t *testing.T) {
	db := newTestDB(t)
	pageID, _ := db.PutPage(Page{URL: "https://example.com/b", Domain: "example.com"})
	f1, err := db.PutFragment(Fragment{PageID: pageID, TextContent: "hello world"})
	if err != nil {
		t.Fatalf("PutFragment: %v", err)
	}
	f2, err := db.PutFragment(Fragment{PageID: pageID, TextContent: "hello world"})
	if err != nil {
		t.Fatalf("PutFragment (dup): %v", err)
	}
	if f1 != f2 {
		t.Fatalf("expected same fragment id on re-insert, got %s vs %s", f1, f2)
	}
}

// TestClaimConfidenceScenario1 reproduces spec §8 end-to-end scenario 1.
func TestClaimConfidenceScenario1(t *testing.T) {
	db := newTestDB(t)
	taskID, _ := db.CreateTask(Task{Hypothesis: "H1"})
	pageID, _ := db.PutPage(Page{URL: "https://example.com/u1", Domain: "example.com"})

	claim1, _ := db.PutClaim(Claim{TaskID: taskID, ClaimText: "C1"})
	claim2, _ := db.PutClaim(Claim{TaskID: taskID, ClaimText: "C2"})

	frags := make([]string, 5)
	for i := range frags {
		id, err := db.PutFragment(Fragment{PageID: pageID, TextContent: "fragment text " + string(rune('A'+i))})
		if err != nil {
			t.Fatalf("PutFragment: %v", err)
		}
		frags[i] = id
	}

	edges := []struct {
		frag, claim, relation string
		conf                  float64
	}{
		{frags[0], claim1, "supports", 0.9},
		{frags[1], claim1, "supports", 0.8},
		{frags[2], claim1, "refutes", 0.6},
		{frags[3], claim2, "supports", 0.7},
		{frags[4], claim2, "neutral", 0.5},
	}
	for _, e := range edges {
		if _, err := db.PutEdge(Edge{SourceID: e.frag, TargetID: e.claim, Relation: e.relation, NLIConfidence: e.conf}); err != nil {
			t.Fatalf("PutEdge: %v", err)
		}
	}

	c1, err := db.GetClaimConfidence(claim1)
	if err != nil {
		t.Fatalf("GetClaimConfidence(C1): %v", err)
	}
	if !almostEqual(c1.Alpha, 2.7, 1e-9) || !almostEqual(c1.Beta, 1.6, 1e-9) {
		t.Fatalf("C1 alpha/beta = %v/%v, want 2.7/1.6", c1.Alpha, c1.Beta)
	}
	if !almostEqual(c1.Confidence, 0.628, 1e-3) {
		t.Fatalf("C1 confidence = %v, want ~0.628", c1.Confidence)
	}
	if !almostEqual(c1.Controversy, 0.261, 1e-3) {
		t.Fatalf("C1 controversy = %v, want ~0.261", c1.Controversy)
	}

	c2, err := db.GetClaimConfidence(claim2)
	if err != nil {
		t.Fatalf("GetClaimConfidence(C2): %v", err)
	}
	if !almostEqual(c2.Alpha, 1.7, 1e-9) || !almostEqual(c2.Beta, 1.0, 1e-9) {
		t.Fatalf("C2 alpha/beta = %v/%v, want 1.7/1.0", c2.Alpha, c2.Beta)
	}
	if !almostEqual(c2.Confidence, 0.63, 1e-2) {
		t.Fatalf("C2 confidence = %v, want ~0.63", c2.Confidence)
	}
}

// TestCorrectEdgeScenario5 reproduces spec §8 end-to-end scenario 5.
func TestCorrectEdgeScenario5(t *testing.T) {
	db := newTestDB(t)
	taskID, _ := db.CreateTask(Task{Hypothesis: "H1"})
	pageID, _ := db.PutPage(Page{URL: "https://example.com/u1", Domain: "example.com"})
	claim1, _ := db.PutClaim(Claim{TaskID: taskID, ClaimText: "C1"})

	f1, _ := db.PutFragment(Fragment{PageID: pageID, TextContent: "f1"})
	f2, _ := db.PutFragment(Fragment{PageID: pageID, TextContent: "f2"})
	f3, _ := db.PutFragment(Fragment{PageID: pageID, TextContent: "f3"})

	edgeF3, _ := db.PutEdge(Edge{SourceID: f3, TargetID: claim1, Relation: "refutes", NLIConfidence: 0.6})
	if _, err := db.PutEdge(Edge{SourceID: f1, TargetID: claim1, Relation: "supports", NLIConfidence: 0.9}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.PutEdge(Edge{SourceID: f2, TargetID: claim1, Relation: "supports", NLIConfidence: 0.8}); err != nil {
		t.Fatal(err)
	}

	if err := db.CorrectEdge(edgeF3, "supports", "reviewer override"); err != nil {
		t.Fatalf("CorrectEdge: %v", err)
	}

	c1, err := db.GetClaimConfidence(claim1)
	if err != nil {
		t.Fatalf("GetClaimConfidence: %v", err)
	}
	if !almostEqual(c1.Alpha, 3.7, 1e-9) || !almostEqual(c1.Beta, 1.0, 1e-9) {
		t.Fatalf("alpha/beta = %v/%v, want 3.7/1.0", c1.Alpha, c1.Beta)
	}
	if !almostEqual(c1.Confidence, 0.787, 1e-3) {
		t.Fatalf("confidence = %v, want ~0.787", c1.Confidence)
	}
}

func TestInterventionDomainSingleUnlock(t *testing.T) {
	db := newTestDB(t)
	taskID, _ := db.CreateTask(Task{Hypothesis: "H"})

	id1, err := db.EnqueueIntervention(InterventionItem{TaskID: taskID, Domain: "d.example", URL: "https://d.example/1", InterventionType: "captcha"})
	if err != nil {
		t.Fatal(err)
	}
	// Same (task, domain, type) coalesces into the same pending item.
	id1b, err := db.EnqueueIntervention(InterventionItem{TaskID: taskID, Domain: "d.example", URL: "https://d.example/1b", InterventionType: "captcha"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id1b {
		t.Fatalf("expected coalesced pending item, got %s vs %s", id1, id1b)
	}

	ids, err := db.ResolveInterventionsForDomain("d.example", "solved", `{"cookies":"x"}`)
	if err != nil {
		t.Fatalf("ResolveInterventionsForDomain: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 resolved item, got %d", len(ids))
	}

	pending, err := db.ListPendingInterventions(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending items after domain unlock, got %d", len(pending))
	}
}

func TestCreateTaskIdempotent(t *testing.T) {
	db := newTestDB(t)
	id1, err := db.CreateTask(Task{Hypothesis: "H", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := db.CreateTask(Task{Hypothesis: "H", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected same task id for repeated idempotency key, got %s vs %s", id1, id2)
	}
}
