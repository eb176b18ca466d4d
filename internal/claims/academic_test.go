package claims

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSemanticScholarReferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"citedPaper": map[string]any{"url": "https://example.com/paper-a"}},
			},
		})
	}))
	defer srv.Close()

	c := &SemanticScholarClient{BaseURL: srv.URL}
	cites, err := c.References(context.Background(), "10.1234/abc", "https://example.com/citing")
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if len(cites) != 1 || cites[0].CitationSource != "semantic_scholar" || cites[0].CitedURL != "https://example.com/paper-a" {
		t.Fatalf("unexpected citations: %+v", cites)
	}
}

func TestOpenAlexReferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"referenced_works": []string{"https://openalex.org/W123"},
		})
	}))
	defer srv.Close()

	c := &OpenAlexClient{BaseURL: srv.URL}
	cites, err := c.References(context.Background(), "W999", "https://example.com/citing")
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if len(cites) != 1 || cites[0].CitationSource != "openalex" || cites[0].CitedURL != "https://openalex.org/W123" {
		t.Fatalf("unexpected citations: %+v", cites)
	}
}
