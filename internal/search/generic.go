package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"golang.org/x/net/html"
)

// Pagination reports whether a SERP had further pages, per C5's
// SearchResult(items, pagination_info, ...).
type Pagination struct {
	HasNext    bool
	NextOffset int
	NextPage   int
}

// SearchResult is C5's SearchResult(items, pagination_info, captcha?,
// diagnostic?).
type SearchResult struct {
	Items           []Result
	Pagination      Pagination
	CaptchaDetected bool
	CaptchaProvider string
	Diagnostic      string
}

// GenericEngine drives one EngineConfig entirely from its declared
// template and selectors — the HTML-selector-driven engine adapting the
// teacher's fixed SearxNG JSON client into a config-declared shape, per
// C5.
type GenericEngine struct {
	Config EngineConfig
	Pool   *Pool // nil unless Config.RequiresBrowser

	HTTPClient *http.Client
	UserAgent  string
}

func (e *GenericEngine) Name() string { return e.Config.Name }

// FetchPage runs one SERP navigation for serpPage (1-based) and returns the
// raw page body, routed through the single-tab browser pool when the
// engine requires it.
func (e *GenericEngine) FetchPage(ctx context.Context, query string, serpPage int) (string, error) {
	u := e.buildURL(query, serpPage)
	if e.Config.RequiresBrowser {
		return e.fetchViaBrowser(ctx, u)
	}
	return e.fetchViaHTTP(ctx, u)
}

func (e *GenericEngine) buildURL(query string, serpPage int) string {
	u := e.Config.URLTemplate
	u = strings.ReplaceAll(u, "{query}", queryEscape(query))
	perPage := e.Config.ResultsPerPage
	if perPage <= 0 {
		perPage = 10
	}
	switch e.Config.Pagination {
	case "offset":
		offset := (serpPage - 1) * perPage
		u = strings.ReplaceAll(u, "{offset}", strconv.Itoa(offset))
	default: // "page"
		u = strings.ReplaceAll(u, "{page}", strconv.Itoa(serpPage))
	}
	return u
}

func (e *GenericEngine) fetchViaHTTP(ctx context.Context, u string) (string, error) {
	hc := e.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if e.UserAgent != "" {
		req.Header.Set("User-Agent", e.UserAgent)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%s: serp status %d", e.Config.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (e *GenericEngine) fetchViaBrowser(ctx context.Context, u string) (string, error) {
	if e.Pool == nil {
		return "", fmt.Errorf("%s: requires_browser but no pool configured", e.Config.Name)
	}
	var out string
	err := e.Pool.Navigate(ctx, u, func(page *rod.Page) error {
		h, err := page.HTML()
		if err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}

// Parse turns a fetched SERP body into a SearchResult: CAPTCHA signatures
// take precedence over result extraction, per C5 step 5.
func (e *GenericEngine) Parse(body string) SearchResult {
	if sig, ok := containsAnySignature(body, e.Config.CaptchaSignatures); ok {
		diag := ""
		doc, err := html.Parse(strings.NewReader(body))
		if err == nil {
			for _, sel := range e.Config.DiagnosticSelectors {
				if n, ok := findFirst(doc, parseSelector(sel)); ok {
					diag = textContent(n)
					break
				}
			}
		}
		return SearchResult{CaptchaDetected: true, CaptchaProvider: sig, Diagnostic: diag}
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return SearchResult{}
	}
	items := extractResults(doc, e.Config.Selectors, e.Config.Name)
	return SearchResult{
		Items:      items,
		Pagination: Pagination{HasNext: len(items) >= e.Config.ResultsPerPage},
	}
}

func queryEscape(s string) string {
	r := strings.NewReplacer(" ", "+", "&", "%26", "#", "%23")
	return r.Replace(s)
}
