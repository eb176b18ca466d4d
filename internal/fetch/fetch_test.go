package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/breaker"
	"github.com/lyra-research/lyra/internal/domainpolicy"
	"github.com/lyra-research/lyra/internal/lyraerr"
	"github.com/lyra-research/lyra/internal/ratelimit"
	"github.com/lyra-research/lyra/internal/session"
	"github.com/lyra-research/lyra/internal/store"
)

func newTestFetcher(t *testing.T, extraYAML string) (*Fetcher, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory(zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	doc := extraYAML
	if doc == "" {
		doc = `
defaults:
  unverified:
    qps: 1000
    headful_ratio: 0
`
	}
	fc, err := domainpolicy.LoadFileConfig([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	resolver, err := domainpolicy.NewResolver(db, fc, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	br := breaker.New(breaker.Config{})
	rl := ratelimit.New(br)
	f := New(resolver, br, rl, nil, session.NewStore(), db, nil, "lyra-test/1.0", zerolog.Nop())
	return f, db
}

func TestFetchHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, "")
	res, err := f.Fetch(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.UsedPath != "http" || res.Status != 200 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(string(res.Body), "hello") {
		t.Fatalf("unexpected body: %s", res.Body)
	}
}

func TestFetchDetectsRecaptchaChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><div class="g-recaptcha"></div></html>`))
	}))
	defer srv.Close()

	f, db := newTestFetcher(t, "")
	_, err := f.Fetch(context.Background(), srv.URL, Options{})
	if err == nil {
		t.Fatalf("expected challenge error")
	}
	if kind, ok := lyraerr.Of(err); !ok || kind != lyraerr.KindChallengeDetected {
		t.Fatalf("expected ChallengeDetected error, got %v (ok=%v)", err, ok)
	}

	pending, lerr := db.ListPendingInterventions("")
	if lerr != nil {
		t.Fatalf("ListPendingInterventions: %v", lerr)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one enqueued intervention, got %d", len(pending))
	}
	if pending[0].InterventionType != "captcha" {
		t.Fatalf("expected captcha intervention type, got %s", pending[0].InterventionType)
	}
}

func TestFetchDenylistedFailsFast(t *testing.T) {
	f, _ := newTestFetcher(t, `
denylist:
  - "blocked.example"
defaults:
  unverified:
    qps: 1000
`)
	_, err := f.Fetch(context.Background(), "https://blocked.example/page", Options{})
	if kind, ok := lyraerr.Of(err); !ok || kind != lyraerr.KindPolicyDenied {
		t.Fatalf("expected PolicyDenied error, got %v (ok=%v)", err, ok)
	}
}

func TestFetch5xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, "")
	_, err := f.Fetch(context.Background(), srv.URL, Options{})
	if err == nil {
		t.Fatalf("expected error for 5xx")
	}
	if kind, ok := lyraerr.Of(err); !ok || kind != lyraerr.KindFetchTransient {
		t.Fatalf("expected FetchTransient kind, got %v (ok=%v)", kind, ok)
	}
}

func TestFetchNotModifiedReturnsHTTPPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, "")
	res, err := f.Fetch(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Status != http.StatusNotModified || res.UsedPath != "http" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
