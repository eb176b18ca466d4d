// Package domainpolicy resolves a host to its PolicyRecord (C1): category,
// rate limits, and allow/deny status. Resolution precedence, highest to
// lowest: active domain override rule (DB) -> user_overrides (config, exact
// host) -> allowlist/denylist (config, suffix glob) -> a TLD heuristic
// default. The resolver rebuilds on config hot reload and notifies
// registered listeners, combining internal/app/config_file.go's
// config-overlay idiom with fsnotify-driven reload.
package domainpolicy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lyra-research/lyra/internal/store"
)

// Category classifies a domain for rate and trust purposes.
type Category string

const (
	CategoryGovernment Category = "GOVERNMENT"
	CategoryAcademic   Category = "ACADEMIC"
	CategoryUnverified Category = "UNVERIFIED"
)

// PolicyRecord is the resolved policy for one host.
type PolicyRecord struct {
	Host               string
	Category           Category
	QPS                float64
	HeadfulRatio      float64
	MaxPagesPerDay    int
	MaxRequestsPerDay int
	OnAllowlist       bool
	OnDenylist        bool
}

// FileConfig is the on-disk policy document: domains.yaml per SPEC_FULL.md.
type FileConfig struct {
	Allowlist     []string                 `yaml:"allowlist"`
	Denylist      []string                 `yaml:"denylist"`
	UserOverrides map[string]OverrideEntry `yaml:"user_overrides"`
	Defaults      struct {
		Government PolicyDefaults `yaml:"government"`
		Academic    PolicyDefaults `yaml:"academic"`
		Unverified  PolicyDefaults `yaml:"unverified"`
	} `yaml:"defaults"`
}

// OverrideEntry is a single user_overrides entry keyed by exact host.
type OverrideEntry struct {
	Category     Category `yaml:"category"`
	QPS          float64  `yaml:"qps"`
	HeadfulRatio float64  `yaml:"headful_ratio"`
}

// PolicyDefaults supplies QPS/headful_ratio/caps per category.
type PolicyDefaults struct {
	QPS               float64 `yaml:"qps"`
	HeadfulRatio      float64 `yaml:"headful_ratio"`
	MaxPagesPerDay    int     `yaml:"max_pages_per_day"`
	MaxRequestsPerDay int     `yaml:"max_requests_per_day"`
}

// academicTLDs is the TLD heuristic for the ACADEMIC/GOVERNMENT default,
// consulted only when no override, user_overrides entry, or allow/denylist
// match applies.
var govTLDs = map[string]bool{"gov": true, "mil": true}
var academicTLDs = map[string]bool{"edu": true, "ac": true}

// Resolver answers policy_for(host) queries against the currently loaded
// configuration and the store's active override rules.
type Resolver struct {
	db  *store.DB
	log zerolog.Logger

	mu        sync.RWMutex
	cfg       FileConfig
	overrides map[string]store.DomainOverrideRule // keyed by pattern

	listenersMu sync.Mutex
	listeners   []func()
}

// NewResolver builds a resolver from an initial file config and the store's
// currently active override rules.
func NewResolver(db *store.DB, cfg FileConfig, log zerolog.Logger) (*Resolver, error) {
	r := &Resolver{db: db, cfg: cfg, log: log}
	if err := r.reloadOverrides(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFileConfig parses a domains.yaml document.
func LoadFileConfig(data []byte) (FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse domain policy config: %w", err)
	}
	return fc, nil
}

// OnChange registers a listener invoked after every successful reload.
func (r *Resolver) OnChange(fn func()) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Resolver) notify() {
	r.listenersMu.Lock()
	fns := append([]func(){}, r.listeners...)
	r.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Reload replaces the file config and rebuilds the resolver, then notifies
// listeners. Called on fsnotify Write/Create events for domains.yaml.
func (r *Resolver) Reload(cfg FileConfig) error {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	if err := r.reloadOverrides(); err != nil {
		return err
	}
	r.notify()
	return nil
}

// ReloadOverrides re-reads active override rules from the store, without
// touching the file config. Called after feedback(action=domain_block) or
// domain_clear_override, so resolution reflects the change immediately.
func (r *Resolver) ReloadOverrides() error {
	if err := r.reloadOverrides(); err != nil {
		return err
	}
	r.notify()
	return nil
}

func (r *Resolver) reloadOverrides() error {
	rules, err := r.db.ActiveDomainOverrideRules()
	if err != nil {
		return fmt.Errorf("load active override rules: %w", err)
	}
	m := make(map[string]store.DomainOverrideRule, len(rules))
	for _, rule := range rules {
		m[rule.DomainPattern] = rule
	}
	r.mu.Lock()
	r.overrides = m
	r.mu.Unlock()
	return nil
}

// PolicyFor resolves the policy for host, applying precedence highest to
// lowest: override rule -> user_overrides -> allow/denylist -> TLD default.
func (r *Resolver) PolicyFor(host string) PolicyRecord {
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	r.mu.RLock()
	cfg := r.cfg
	overrides := r.overrides
	r.mu.RUnlock()

	pr := PolicyRecord{Host: host}
	pr.OnAllowlist = matchesSuffixGlob(host, cfg.Allowlist)
	pr.OnDenylist = matchesSuffixGlob(host, cfg.Denylist)
	pr.Category, pr.QPS, pr.HeadfulRatio, pr.MaxPagesPerDay, pr.MaxRequestsPerDay = defaultsFor(host, cfg)

	if ov, ok := cfg.UserOverrides[host]; ok {
		if ov.Category != "" {
			pr.Category = ov.Category
		}
		if ov.QPS > 0 {
			pr.QPS = ov.QPS
		}
		if ov.HeadfulRatio > 0 {
			pr.HeadfulRatio = ov.HeadfulRatio
		}
	}

	if rule, matched := matchOverrideRule(host, overrides); matched {
		switch rule.Decision {
		case "block":
			pr.OnDenylist = true
			pr.OnAllowlist = false
		case "unblock":
			pr.OnDenylist = false
			pr.OnAllowlist = true
		}
	}

	return pr
}

func defaultsFor(host string, cfg FileConfig) (Category, float64, float64, int, int) {
	tld := tldOf(host)
	var d PolicyDefaults
	var cat Category
	switch {
	case govTLDs[tld]:
		cat, d = CategoryGovernment, cfg.Defaults.Government
	case academicTLDs[tld]:
		cat, d = CategoryAcademic, cfg.Defaults.Academic
	default:
		cat, d = CategoryUnverified, cfg.Defaults.Unverified
	}
	return cat, d.QPS, d.HeadfulRatio, d.MaxPagesPerDay, d.MaxRequestsPerDay
}

func tldOf(host string) string {
	i := strings.LastIndexByte(host, '.')
	if i < 0 {
		return host
	}
	return host[i+1:]
}

// matchesSuffixGlob reports whether host matches any pattern in patterns.
// A pattern is either a bare suffix ("example.com" matches "example.com"
// and "*.example.com") or an explicit "*.example.com" glob.
func matchesSuffixGlob(host string, patterns []string) bool {
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		suffix := strings.TrimPrefix(p, "*.")
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func matchOverrideRule(host string, overrides map[string]store.DomainOverrideRule) (store.DomainOverrideRule, bool) {
	if rule, ok := overrides[host]; ok {
		return rule, true
	}
	for pattern, rule := range overrides {
		suffix := strings.TrimPrefix(pattern, "*.")
		if suffix != pattern && strings.HasSuffix(host, "."+suffix) {
			return rule, true
		}
	}
	return store.DomainOverrideRule{}, false
}

// ValidatePattern rejects override patterns that are too broad: bare "*",
// "*.*", a lone public-suffix pattern ("*.tld"), or a wildcard anywhere but
// the leading label.
func ValidatePattern(pattern string) error {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "*" || p == "*.*" {
		return fmt.Errorf("override pattern %q is too broad", pattern)
	}
	if strings.Count(p, "*") > 1 {
		return fmt.Errorf("override pattern %q has more than one wildcard", pattern)
	}
	if i := strings.IndexByte(p, '*'); i > 0 {
		return fmt.Errorf("override pattern %q: wildcard must lead the pattern", pattern)
	}
	rest := strings.TrimPrefix(p, "*.")
	if rest != p && !strings.Contains(rest, ".") {
		return fmt.Errorf("override pattern %q matches an entire public suffix", pattern)
	}
	return nil
}
