package app

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/store"
)

func TestBuildGraphSnapshotMarkdown_IncludesClaimsAndEvidence(t *testing.T) {
	db, err := store.OpenMemory(zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	taskID, _ := db.CreateTask(store.Task{Hypothesis: "H1"})
	pageID, _ := db.PutPage(store.Page{URL: "https://example.com/a", Domain: "example.com"})
	fragID, _ := db.PutFragment(store.Fragment{PageID: pageID, TextContent: "fragment text"})
	claimID, err := db.PutClaim(store.Claim{TaskID: taskID, ClaimText: "The sky is blue"})
	if err != nil {
		t.Fatalf("PutClaim: %v", err)
	}
	if _, err := db.PutEdge(store.Edge{SourceID: fragID, TargetID: claimID, Relation: "supports", NLIConfidence: 0.9, SourceDomainCategory: "news"}); err != nil {
		t.Fatalf("PutEdge: %v", err)
	}

	md, err := buildGraphSnapshotMarkdown(db, taskID)
	if err != nil {
		t.Fatalf("buildGraphSnapshotMarkdown: %v", err)
	}
	if !strings.Contains(md, "The sky is blue") {
		t.Fatalf("expected claim text in snapshot, got: %q", md)
	}
	if !strings.Contains(md, "supports") || !strings.Contains(md, "news") {
		t.Fatalf("expected evidence relation and domain category in snapshot, got: %q", md)
	}
	if !strings.Contains(md, taskID) {
		t.Fatalf("expected task id in snapshot, got: %q", md)
	}
}

func TestBuildGraphSnapshotMarkdown_NoClaimsProducesHeaderOnly(t *testing.T) {
	db, err := store.OpenMemory(zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	taskID, _ := db.CreateTask(store.Task{Hypothesis: "H1"})
	md, err := buildGraphSnapshotMarkdown(db, taskID)
	if err != nil {
		t.Fatalf("buildGraphSnapshotMarkdown: %v", err)
	}
	if !strings.Contains(md, "# Evidence graph snapshot") {
		t.Fatalf("expected header, got: %q", md)
	}
	if strings.Contains(md, "##") {
		t.Fatalf("expected no claim sections, got: %q", md)
	}
}
