package intervention

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/session"
	"github.com/lyra-research/lyra/internal/store"
)

type fakeRequeuer struct {
	domains []string
}

func (f *fakeRequeuer) RequeueAwaitingAuth(domain string) {
	f.domains = append(f.domains, domain)
}

func newTestManager(t *testing.T) (*Manager, *fakeRequeuer) {
	t.Helper()
	db, err := store.OpenMemory(zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	rq := &fakeRequeuer{}
	return New(db, session.NewStore(), rq, zerolog.Nop()), rq
}

func TestEnqueueAndStartSession(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.Enqueue(store.InterventionItem{Domain: "example.com", URL: "https://example.com/login", InterventionType: "login"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	url, err := m.StartSession(id)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if url != "https://example.com/login" {
		t.Fatalf("unexpected url: %q", url)
	}
}

func TestCompleteDomainUnlocksAllAndRequeues(t *testing.T) {
	m, rq := newTestManager(t)
	if _, err := m.Enqueue(store.InterventionItem{Domain: "shared.example", URL: "https://shared.example/a", InterventionType: "captcha"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Enqueue(store.InterventionItem{TaskID: "t2", Domain: "shared.example", URL: "https://shared.example/b", InterventionType: "login"}); err != nil {
		t.Fatal(err)
	}

	ids, err := m.CompleteDomain("shared.example", true, `{"origin":"https://shared.example","cookies":[{"name":"s","value":"1"}],"captured_at":"2026-01-01T00:00:00Z"}`)
	if err != nil {
		t.Fatalf("CompleteDomain: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 items resolved, got %d", len(ids))
	}
	if len(rq.domains) != 1 || rq.domains[0] != "shared.example" {
		t.Fatalf("expected one requeue call for shared.example, got %+v", rq.domains)
	}

	pending, err := m.ListPending("")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending items remaining, got %d", len(pending))
	}
}

func TestGetSessionForDomainAfterSolve(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.Enqueue(store.InterventionItem{Domain: "solve.example", URL: "https://solve.example/x", InterventionType: "captcha"})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Complete(id, true, `{"origin":"https://solve.example","captured_at":"2026-01-01T00:00:00Z"}`); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	data, ok, err := m.GetSessionForDomain("solve.example")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || data == "" {
		t.Fatalf("expected session data to be present, got ok=%v data=%q", ok, data)
	}
}

func TestGetSessionForDomainUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	_, ok, err := m.GetSessionForDomain("nowhere.example")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected no session data for unseen domain")
	}
}
