package store

import "testing"

func seedCorrection(t *testing.T, db *DB, claimText, predicted, correct string) (edgeID string) {
	t.Helper()
	taskID, _ := db.CreateTask(Task{Hypothesis: "H"})
	pageID, _ := db.PutPage(Page{URL: "https://example.com/" + claimText, Domain: "example.com"})
	claimID, _ := db.PutClaim(Claim{TaskID: taskID, ClaimText: claimText})
	fragID, _ := db.PutFragment(Fragment{PageID: pageID, TextContent: "fragment for " + claimText})
	edgeID, err := db.PutEdge(Edge{SourceID: fragID, TargetID: claimID, Relation: predicted, NLIConfidence: 0.7})
	if err != nil {
		t.Fatalf("PutEdge: %v", err)
	}
	if err := db.CorrectEdge(edgeID, correct, "test correction"); err != nil {
		t.Fatalf("CorrectEdge: %v", err)
	}
	return edgeID
}

func TestCalibrationStats_ComputesAccuracyAndConfusion(t *testing.T) {
	db := newTestDB(t)
	seedCorrection(t, db, "c1", "supports", "supports")
	seedCorrection(t, db, "c2", "refutes", "supports")
	seedCorrection(t, db, "c3", "neutral", "neutral")

	stats, err := db.CalibrationStats()
	if err != nil {
		t.Fatalf("CalibrationStats: %v", err)
	}
	if stats.TotalCorrections != 3 {
		t.Fatalf("TotalCorrections = %d, want 3", stats.TotalCorrections)
	}
	if stats.Agreements != 2 {
		t.Fatalf("Agreements = %d, want 2", stats.Agreements)
	}
	if !almostEqual(stats.Accuracy, 2.0/3.0, 1e-9) {
		t.Fatalf("Accuracy = %v, want 2/3", stats.Accuracy)
	}
	if stats.ConfusionCounts["refutes->supports"] != 1 {
		t.Fatalf("ConfusionCounts[refutes->supports] = %d, want 1", stats.ConfusionCounts["refutes->supports"])
	}
}

func TestRollbackCorrections_RevertsEdgesAtOrAfterCutoff(t *testing.T) {
	db := newTestDB(t)
	edgeID := seedCorrection(t, db, "c1", "refutes", "supports")

	corrections, err := db.ListNLICorrections(0)
	if err != nil {
		t.Fatalf("ListNLICorrections: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}

	reverted, err := db.RollbackCorrections("1970-01-01T00:00:00.000Z")
	if err != nil {
		t.Fatalf("RollbackCorrections: %v", err)
	}
	if reverted != 1 {
		t.Fatalf("reverted = %d, want 1", reverted)
	}

	var relation string
	var corrected bool
	row := db.reader.QueryRow(`SELECT relation, edge_human_corrected FROM edges WHERE id = ?`, edgeID)
	if err := row.Scan(&relation, &corrected); err != nil {
		t.Fatalf("scan edge: %v", err)
	}
	if relation != "refutes" {
		t.Fatalf("relation = %q, want refutes (reverted to predicted label)", relation)
	}
	if corrected {
		t.Fatal("edge still marked human_corrected after rollback")
	}

	remaining, err := db.ListNLICorrections(0)
	if err != nil {
		t.Fatalf("ListNLICorrections after rollback: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("got %d remaining corrections, want 0", len(remaining))
	}
}
