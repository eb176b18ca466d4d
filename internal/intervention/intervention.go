// Package intervention implements C6's human-action queue API over the
// C13 store: enqueue, list_pending, start_session, complete,
// complete_domain, get_session_for_domain. It is a thin coordination layer
// — the persistence and uniqueness/coalescing rules already live in
// internal/store; this package adds the session-capture and
// scheduler-requeue wiring those operations need around them.
package intervention

import (
	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/session"
	"github.com/lyra-research/lyra/internal/store"
)

// Requeuer re-queues jobs in awaiting_auth that were blocked on a domain,
// implemented by the scheduler (C8).
type Requeuer interface {
	RequeueAwaitingAuth(domain string)
}

// Manager exposes C6's API surface.
type Manager struct {
	DB       *store.DB
	Sessions *session.Store
	Requeue  Requeuer
	Log      zerolog.Logger
}

func New(db *store.DB, sessions *session.Store, requeue Requeuer, log zerolog.Logger) *Manager {
	return &Manager{DB: db, Sessions: sessions, Requeue: requeue, Log: log}
}

// Enqueue records a new pending item, coalescing with an existing pending
// item for the same (task, domain, type).
func (m *Manager) Enqueue(item store.InterventionItem) (string, error) {
	return m.DB.EnqueueIntervention(item)
}

// ListPending lists pending items, optionally scoped to a task.
func (m *Manager) ListPending(taskID string) ([]store.InterventionItem, error) {
	return m.DB.ListPendingInterventions(taskID)
}

// StartSession marks an item in_progress and returns the URL to navigate
// the shared browser to.
func (m *Manager) StartSession(id string) (string, error) {
	return m.DB.StartIntervention(id)
}

// Complete resolves a single item: success maps to "solved", failure to
// "skipped". On solved, sessionData (captured cookies) is persisted; on
// either outcome the domain's awaiting_auth jobs are re-queued.
func (m *Manager) Complete(id string, success bool, sessionData string) error {
	action := "skipped"
	if success {
		action = "solved"
	}
	domain, err := m.DB.ResolveIntervention(id, action, sessionData)
	if err != nil {
		return err
	}
	m.afterResolve(domain, action, sessionData)
	return nil
}

// CompleteDomain resolves every pending item sharing domain in one pass —
// the domain-based single-unlock rule.
func (m *Manager) CompleteDomain(domain string, success bool, sessionData string) ([]string, error) {
	action := "skipped"
	if success {
		action = "solved"
	}
	ids, err := m.DB.ResolveInterventionsForDomain(domain, action, sessionData)
	if err != nil {
		return nil, err
	}
	m.afterResolve(domain, action, sessionData)
	return ids, nil
}

// GetSessionForDomain returns the most recently captured session data for
// domain, if any prior intervention on it was solved.
func (m *Manager) GetSessionForDomain(domain string) (string, bool, error) {
	return m.DB.LatestSessionDataForDomain(domain)
}

func (m *Manager) afterResolve(domain, action, sessionData string) {
	if action == "solved" && m.Sessions != nil && sessionData != "" && sessionData != "{}" {
		if err := m.Sessions.RestoreFromPersisted(sessionData); err != nil {
			m.Log.Warn().Err(err).Str("domain", domain).Msg("restore session data failed")
		}
	}
	if m.Requeue != nil {
		m.Requeue.RequeueAwaitingAuth(domain)
	}
}
