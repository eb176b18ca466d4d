// Package browsermgr owns the single headful browser context shared by the
// fetch layer (C4) and search provider (C5). Both components must reuse
// this context rather than opening a fresh one, so cookies, fingerprint,
// and any completed interventions (CAPTCHA/login) carry across domains and
// jobs. Connects or launches once, reconnecting only on a stale
// connection, trimmed to what Lyra's fetch and search layers need: one
// shared browser, per-purpose pages.
package browsermgr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config controls how the shared browser connects or launches.
type Config struct {
	// DebuggerURL, if set, connects to an existing remote-debug channel
	// instead of launching a new browser process.
	DebuggerURL string
	Headless    bool
}

// Manager owns one *rod.Browser and hands out pages from it, enforcing
// "never create a fresh context when an existing one exists."
type Manager struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
}

// New creates a manager; it does not connect until first use.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// ensureStarted connects (or launches) the shared browser exactly once,
// reconnecting only if the previous connection has gone stale.
func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		_ = m.browser.Close()
		m.browser = nil
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	m.browser = browser
	return nil
}

// Page returns a page in the shared browser context for navigating to
// url. Reusing the shared *rod.Browser (never launching a second one)
// preserves cookies and fingerprint across calls, per C4 step 3.
func (m *Manager) Page(ctx context.Context, url string) (*rod.Page, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, errors.New("browsermgr: browser not connected")
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}

// Close tears down the shared browser.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	return err
}
