package search

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/breaker"
	"github.com/lyra-research/lyra/internal/kneedle"
	"github.com/lyra-research/lyra/internal/store"
)

// Orchestrator drives C5's search(query, engine, serp_page, options)
// operation across a declared set of engines: weighted engine choice,
// single-page search, and multi-page traversal with a novelty-rate stop
// gated by Kneedle.
type Orchestrator struct {
	Engines map[string]*GenericEngine
	Breaker *breaker.Breaker
	DB      *store.DB
	Log     zerolog.Logger

	SerpMaxPages int
	NoveltyFloor float64
	KneedleSense float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewOrchestrator builds an orchestrator over a set of configured engines.
func NewOrchestrator(cfg FileConfig, engines map[string]*GenericEngine, br *breaker.Breaker, db *store.DB, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Engines:      engines,
		Breaker:      br,
		DB:           db,
		Log:          log,
		SerpMaxPages: cfg.SerpMaxPages,
		NoveltyFloor: cfg.NoveltyFloor,
		KneedleSense: cfg.KneedleSense,
		rand:         rand.New(rand.NewSource(1)),
	}
}

// ChooseEngine performs a weighted draw across available engines: weight
// is base_weight scaled by the engine's current breaker success rate, per
// "engine weights come from policy and breaker health."
func (o *Orchestrator) ChooseEngine() (*GenericEngine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.Engines) == 0 {
		return nil, fmt.Errorf("search: no engines configured")
	}

	total := 0.0
	weights := make(map[string]float64, len(o.Engines))
	for name, e := range o.Engines {
		w := e.Config.BaseWeight * o.Breaker.SuccessRate(name)
		if w < 0 {
			w = 0
		}
		weights[name] = w
		total += w
	}
	if total <= 0 {
		// All engines unhealthy; fall back to uniform so the system can
		// still probe instead of deadlocking search entirely.
		for name := range o.Engines {
			weights[name] = 1
			total += 1
		}
	}

	draw := o.rand.Float64() * total
	cursor := 0.0
	for name, w := range weights {
		cursor += w
		if draw <= cursor {
			return o.Engines[name], nil
		}
	}
	// Floating-point fallthrough: return any engine deterministically.
	for _, e := range o.Engines {
		return e, nil
	}
	return nil, fmt.Errorf("search: no engines configured")
}

// Search performs one SERP page fetch+parse for the named engine, per
// C5's search(query, engine, serp_page, options). A detected CAPTCHA
// enqueues an intervention and is reported via SearchResult rather than
// as an error, so the caller can transition the job to awaiting_auth.
func (o *Orchestrator) Search(ctx context.Context, query, engineName string, serpPage int) (SearchResult, error) {
	o.mu.Lock()
	e, ok := o.Engines[engineName]
	o.mu.Unlock()
	if !ok {
		return SearchResult{}, fmt.Errorf("search: unknown engine %q", engineName)
	}

	body, err := e.FetchPage(ctx, query, serpPage)
	if err != nil {
		o.Breaker.RecordFailure(engineName, false)
		return SearchResult{}, err
	}

	result := e.Parse(body)
	if result.CaptchaDetected {
		o.Breaker.RecordFailure(engineName, true)
		if o.DB != nil {
			if _, ierr := o.DB.EnqueueIntervention(store.InterventionItem{
				Domain:           engineName,
				URL:              e.buildURL(query, serpPage),
				InterventionType: "captcha",
				Diagnostic:       result.CaptchaProvider,
			}); ierr != nil {
				o.Log.Warn().Err(ierr).Str("engine", engineName).Msg("enqueue search intervention failed")
			}
		}
		return result, nil
	}

	o.Breaker.RecordSuccess(engineName, 0)
	return result, nil
}

// SearchMultiPage traverses up to SerpMaxPages for engineName, stopping
// early when the novelty rate (fraction of URLs not already seen) drops
// below NoveltyFloor, per C5's pagination rule, and applies Kneedle over
// per-page novelty rates as a secondary stop signal.
func (o *Orchestrator) SearchMultiPage(ctx context.Context, query, engineName string) ([]Result, bool, error) {
	maxPages := o.SerpMaxPages
	if maxPages <= 0 {
		maxPages = 5
	}

	seen := make(map[string]struct{})
	var all []Result
	var noveltyRates []float64
	captcha := false

	for page := 1; page <= maxPages; page++ {
		res, err := o.Search(ctx, query, engineName, page)
		if err != nil {
			return all, captcha, err
		}
		if res.CaptchaDetected {
			captcha = true
			break
		}
		if len(res.Items) == 0 {
			break
		}

		fresh := 0
		for _, item := range res.Items {
			if _, dup := seen[item.URL]; dup {
				continue
			}
			seen[item.URL] = struct{}{}
			all = append(all, item)
			fresh++
		}
		novelty := float64(fresh) / float64(len(res.Items))
		noveltyRates = append(noveltyRates, novelty)

		if novelty < o.NoveltyFloor {
			break
		}
		if !res.Pagination.HasNext {
			break
		}
		// Novelty rates are naturally non-increasing across pages
		// (index 0 = page 1 = highest), matching kneedle.Find's
		// expected shape. A knee detected at the most recent page
		// means novelty just bent downward sharply — stop here rather
		// than waiting for it to cross NoveltyFloor outright.
		if len(noveltyRates) >= 3 {
			if idx, found := kneedle.Find(noveltyRates, o.KneedleSense); found && idx == len(noveltyRates)-1 {
				break
			}
		}
	}

	return all, captcha, nil
}
