package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Citation is one citing->cited page relationship observed from an
// academic API, feeding store.PutEdge with relation="cites".
type Citation struct {
	CitingURL      string
	CitedURL       string
	CitationSource string // semantic_scholar | openalex
}

// SemanticScholarClient queries the Semantic Scholar Graph API's
// references endpoint for a paper's outgoing citations, following the
// same plain JSON-over-HTTP client shape as internal/search's engines.
type SemanticScholarClient struct {
	BaseURL    string // defaults to https://api.semanticscholar.org/graph/v1
	APIKey     string // optional
	HTTPClient *http.Client
}

type s2ReferencesResponse struct {
	Data []struct {
		CitedPaper struct {
			ExternalIDs struct {
				URL string `json:"URL"`
			} `json:"externalIds"`
			URL string `json:"url"`
		} `json:"citedPaper"`
	} `json:"data"`
}

// References returns the outgoing citations of paperID (a DOI, arXiv id,
// or Semantic Scholar paper id), identified by citingURL for edge
// construction.
func (c *SemanticScholarClient) References(ctx context.Context, paperID, citingURL string) ([]Citation, error) {
	base := c.BaseURL
	if base == "" {
		base = "https://api.semanticscholar.org/graph/v1"
	}
	u := fmt.Sprintf("%s/paper/%s/references?fields=citedPaper.externalIds,citedPaper.url", strings.TrimRight(base, "/"), url.PathEscape(paperID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("semantic scholar status: %d", resp.StatusCode)
	}

	var parsed s2ReferencesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]Citation, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		cited := d.CitedPaper.URL
		if cited == "" {
			cited = d.CitedPaper.ExternalIDs.URL
		}
		if cited == "" {
			continue
		}
		out = append(out, Citation{CitingURL: citingURL, CitedURL: cited, CitationSource: "semantic_scholar"})
	}
	return out, nil
}

// OpenAlexClient queries the OpenAlex works API for a work's outgoing
// references.
type OpenAlexClient struct {
	BaseURL    string // defaults to https://api.openalex.org
	HTTPClient *http.Client
}

type openAlexWorkResponse struct {
	ReferencedWorks []string `json:"referenced_works"`
}

// References returns the outgoing citations of workID (an OpenAlex work
// ID or DOI), identified by citingURL for edge construction.
func (c *OpenAlexClient) References(ctx context.Context, workID, citingURL string) ([]Citation, error) {
	base := c.BaseURL
	if base == "" {
		base = "https://api.openalex.org"
	}
	u := fmt.Sprintf("%s/works/%s", strings.TrimRight(base, "/"), url.PathEscape(workID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("openalex status: %d", resp.StatusCode)
	}

	var parsed openAlexWorkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]Citation, 0, len(parsed.ReferencedWorks))
	for _, ref := range parsed.ReferencedWorks {
		if ref == "" {
			continue
		}
		out = append(out, Citation{CitingURL: citingURL, CitedURL: ref, CitationSource: "openalex"})
	}
	return out, nil
}
