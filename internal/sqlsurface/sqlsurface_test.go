package sqlsurface

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/store"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lyra.db")
	db, err := store.Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	pageID, err := db.PutPage(store.Page{URL: "https://example.org/a", Domain: "example.org"})
	if err != nil {
		t.Fatal(err)
	}
	fragID, err := db.PutFragment(store.Fragment{PageID: pageID, TextContent: "the sky is blue"})
	if err != nil {
		t.Fatal(err)
	}
	claimID, err := db.PutClaim(store.Claim{TaskID: "t1", ClaimText: "the sky has a blue color"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.PutEdge(store.Edge{SourceID: fragID, TargetID: claimID, Relation: "supports", NLIConfidence: 0.9}); err != nil {
		t.Fatal(err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestQueryReturnsRows(t *testing.T) {
	s := New(seedDB(t))
	res, err := s.Query(context.Background(), "SELECT claim_text FROM claims", Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "the sky has a blue color" {
		t.Fatalf("unexpected rows: %+v", res.Rows)
	}
}

func TestQueryRejectsMultipleStatements(t *testing.T) {
	s := New(seedDB(t))
	_, err := s.Query(context.Background(), "SELECT 1; SELECT 2", Options{})
	if err == nil {
		t.Fatal("expected rejection of multi-statement input")
	}
}

func TestQueryAllowsLoneTrailingSemicolon(t *testing.T) {
	s := New(seedDB(t))
	_, err := s.Query(context.Background(), "SELECT 1;", Options{})
	if err != nil {
		t.Fatalf("expected lone trailing semicolon to be accepted: %v", err)
	}
}

func TestQueryDeniesWrite(t *testing.T) {
	s := New(seedDB(t))
	_, err := s.Query(context.Background(), "DELETE FROM claims", Options{})
	if err == nil {
		t.Fatal("expected DELETE to be denied by the authorizer")
	}
}

func TestQueryDeniesAttach(t *testing.T) {
	s := New(seedDB(t))
	_, err := s.Query(context.Background(), "ATTACH DATABASE ':memory:' AS x", Options{})
	if err == nil {
		t.Fatal("expected ATTACH to be denied")
	}
}

func TestQueryDeniesPragma(t *testing.T) {
	s := New(seedDB(t))
	_, err := s.Query(context.Background(), "PRAGMA table_info(claims)", Options{})
	if err == nil {
		t.Fatal("expected PRAGMA to be denied even for a schema-shaped pragma")
	}
}

func TestQueryRowLimitTruncates(t *testing.T) {
	s := New(seedDB(t))
	res, err := s.Query(context.Background(), "SELECT 1 UNION ALL SELECT 2 UNION ALL SELECT 3", Options{RowLimit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Rows) != 2 || !res.Truncated {
		t.Fatalf("expected truncated 2-row result, got %+v", res)
	}
}

func TestSchemaListsTables(t *testing.T) {
	s := New(seedDB(t))
	res, err := s.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	found := false
	for _, row := range res.Rows {
		if name, ok := row[1].(string); ok && name == "claims" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected claims table in schema snapshot, got %+v", res.Rows)
	}
}

func TestQueryViewHubPages(t *testing.T) {
	s := New(seedDB(t))
	res, err := s.QueryView(context.Background(), "hub_pages", map[string]any{"limit": int64(10)}, Options{})
	if err != nil {
		t.Fatalf("QueryView: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected one hub page row, got %+v", res.Rows)
	}
}

func TestQueryViewMissingParam(t *testing.T) {
	s := New(seedDB(t))
	_, err := s.QueryView(context.Background(), "hub_pages", nil, Options{})
	if err == nil || !strings.Contains(err.Error(), "missing parameter") {
		t.Fatalf("expected missing-parameter error, got %v", err)
	}
}

func TestQueryViewUnknownName(t *testing.T) {
	s := New(seedDB(t))
	if _, err := s.QueryView(context.Background(), "nonexistent", nil, Options{}); err == nil {
		t.Fatal("expected unknown-view error")
	}
}

func TestListViewsNonEmpty(t *testing.T) {
	if len(ListViews()) == 0 {
		t.Fatal("expected a non-empty view template library")
	}
}
