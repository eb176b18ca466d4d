package search

import (
	"context"
	"sync"

	"github.com/go-rod/rod"

	"github.com/lyra-research/lyra/internal/browsermgr"
)

// Pool is the single-tab browser pool C5 requires: "every SERP navigation
// serializes on one page to avoid any concurrent Playwright-style command
// overlap on the same browser context." It wraps the shared
// browsermgr.Manager (the same browser fetch escalation uses) with a mutex
// so at most one SERP navigation runs at a time.
type Pool struct {
	browser *browsermgr.Manager
	mu      sync.Mutex
}

// NewPool builds a single-tab pool over an existing shared browser.
func NewPool(browser *browsermgr.Manager) *Pool {
	return &Pool{browser: browser}
}

// Navigate serializes fn against the pool's one tab: it opens a page for
// url, runs fn against it, and always closes the page before releasing the
// lock for the next caller.
func (p *Pool) Navigate(ctx context.Context, url string, fn func(*rod.Page) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	page, err := p.browser.Page(ctx, url)
	if err != nil {
		return err
	}
	defer page.Close()
	return fn(page)
}
