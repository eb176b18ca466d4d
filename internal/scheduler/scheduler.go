// Package scheduler implements C8: a persistent priority queue over the
// C13 store's jobs table, with concurrency slots, mutex groups, and
// cooperative cancellation. A staged pipeline (search -> fetch -> extract
// -> ...) is generalized into a long-lived dispatch loop admitting many
// concurrently runnable jobs, built from the same small-struct,
// explicit-state-field style as the rest of this codebase.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/lyraerr"
	"github.com/lyra-research/lyra/internal/store"
)

// Priority is the fixed per-kind priority table (higher wins, stable
// FIFO within a priority). The store's jobs.kind CHECK constraint fixes
// the kind set to {serp, fetch, extract, embed, rank, llm_extract, nli,
// compose}; fetch stands in for the "prefetch" tier and llm_extract/
// nli/compose are priority-ordered within the llm_fast/llm_slow band
// (see DESIGN.md's Open Question resolution).
var Priority = map[string]int{
	"serp":        100,
	"fetch":       90,
	"extract":     80,
	"embed":       70,
	"rank":        60,
	"llm_extract": 50,
	"nli":         40,
	"compose":     30,
}

// Timeout is the per-kind execution timeout from spec §4.8.
var Timeout = map[string]time.Duration{
	"serp":        30 * time.Second,
	"fetch":       60 * time.Second,
	"llm_extract": 120 * time.Second,
	"nli":         30 * time.Second,
}

const defaultTimeout = 60 * time.Second

// mutexGroupOf reports the mutual-exclusion group a job kind belongs to,
// or "" if it belongs to none. "gpu" covers the dense-stage kinds; a
// headful fetch (job.InputJSON carries "force_headful":true) joins
// "browser_headful" alongside serp, since both drive the single shared
// browser context.
func mutexGroupOf(job store.Job) string {
	switch job.Kind {
	case "nli", "embed", "rank":
		return "gpu"
	case "serp":
		return "browser_headful"
	case "fetch":
		if isForceHeadful(job.InputJSON) {
			return "browser_headful"
		}
	}
	return ""
}

func isForceHeadful(inputJSON string) bool {
	var v struct {
		ForceHeadful bool `json:"force_headful"`
	}
	_ = json.Unmarshal([]byte(inputJSON), &v)
	return v.ForceHeadful
}

// Handler executes one job of a given kind and returns its output, or an
// error. Handlers should treat ctx cancellation as a request to stop at
// the next suspension point and release any held resources before
// returning.
type Handler func(ctx context.Context, job store.Job) (outputJSON string, err error)

// Config tunes concurrency.
type Config struct {
	OverallConcurrency   int
	PerDomainConcurrency int
	PollInterval         time.Duration
}

func (c Config) filled() Config {
	if c.OverallConcurrency <= 0 {
		c.OverallConcurrency = 4
	}
	if c.PerDomainConcurrency <= 0 {
		c.PerDomainConcurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// Scheduler dispatches queued jobs against registered handlers, enforcing
// overall/per-domain concurrency slots and mutex groups, per spec §4.8.
type Scheduler struct {
	DB       *store.DB
	Handlers map[string]Handler
	Log      zerolog.Logger
	cfg      Config

	mu              sync.Mutex
	runningOverall  int
	runningByDomain map[string]int
	groupBusy       map[string]bool
	cancelFuncs     map[string]context.CancelFunc
	drainingTasks   map[string]bool
	wg              sync.WaitGroup
}

// New builds a Scheduler. Register handlers before calling Run.
func New(db *store.DB, cfg Config, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		DB:              db,
		Handlers:        make(map[string]Handler),
		Log:             log,
		cfg:             cfg.filled(),
		runningByDomain: make(map[string]int),
		groupBusy:       make(map[string]bool),
		cancelFuncs:     make(map[string]context.CancelFunc),
		drainingTasks:   make(map[string]bool),
	}
}

// RegisterHandler wires a job kind to its execution function.
func (s *Scheduler) RegisterHandler(kind string, h Handler) {
	s.Handlers[kind] = h
}

// RequeueAwaitingAuth implements intervention.Requeuer: it re-queues every
// awaiting_auth job for domain, preserving priority and enqueue time.
func (s *Scheduler) RequeueAwaitingAuth(domain string) {
	if _, err := s.DB.RequeueAwaitingAuthForDomain(domain); err != nil {
		s.Log.Warn().Err(err).Str("domain", domain).Msg("requeue awaiting_auth jobs failed")
	}
}

// Run polls for admissible queued jobs until ctx is cancelled, dispatching
// each onto its own goroutine. It returns once ctx is done and all
// in-flight jobs have finished.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.dispatchOnce(ctx)
		}
	}
}

func (s *Scheduler) dispatchOnce(ctx context.Context) {
	kinds := make([]string, 0, len(s.Handlers))
	for k := range s.Handlers {
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return
	}

	candidates, err := s.DB.NextQueuedJobs(s.cfg.OverallConcurrency*4, kinds)
	if err != nil {
		s.Log.Warn().Err(err).Msg("list queued jobs failed")
		return
	}

	for _, job := range candidates {
		job := job
		if !s.tryAdmit(job) {
			continue
		}
		s.wg.Add(1)
		go s.execute(ctx, job)
	}
}

// tryAdmit checks and reserves slots for job in one locked step, so two
// dispatch passes can never both admit a job that would overrun a slot or
// double-occupy a mutex group.
func (s *Scheduler) tryAdmit(job store.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drainingTasks[job.TaskID] {
		return false
	}
	if s.runningOverall >= s.cfg.OverallConcurrency {
		return false
	}
	if job.Domain != "" && s.runningByDomain[job.Domain] >= s.cfg.PerDomainConcurrency {
		return false
	}
	group := mutexGroupOf(job)
	if group != "" && s.groupBusy[group] {
		return false
	}

	s.runningOverall++
	if job.Domain != "" {
		s.runningByDomain[job.Domain]++
	}
	if group != "" {
		s.groupBusy[group] = true
	}
	return true
}

func (s *Scheduler) release(job store.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningOverall--
	if job.Domain != "" {
		s.runningByDomain[job.Domain]--
		if s.runningByDomain[job.Domain] <= 0 {
			delete(s.runningByDomain, job.Domain)
		}
	}
	if group := mutexGroupOf(job); group != "" {
		delete(s.groupBusy, group)
	}
	delete(s.cancelFuncs, job.ID)
}

func (s *Scheduler) execute(parent context.Context, job store.Job) {
	defer s.wg.Done()
	defer s.release(job)

	if err := s.DB.MarkJobRunning(job.ID); err != nil {
		s.Log.Warn().Err(err).Str("job_id", job.ID).Msg("mark running failed")
		return
	}

	timeout := Timeout[job.Kind]
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	s.mu.Lock()
	s.cancelFuncs[job.ID] = cancel
	s.mu.Unlock()
	defer cancel()

	handler, ok := s.Handlers[job.Kind]
	if !ok {
		s.finish(job.ID, "failed", "", fmt.Errorf("%w: no handler for kind %q", lyraerr.ErrInternalFailure, job.Kind))
		return
	}

	output, err := handler(ctx, job)
	if err != nil {
		if kind, ok := lyraerr.Of(err); ok && kind == lyraerr.KindChallengeDetected {
			s.finish(job.ID, "awaiting_auth", output, nil)
			return
		}
		s.finish(job.ID, "failed", output, err)
		return
	}
	s.finish(job.ID, "done", output, nil)
}

func (s *Scheduler) finish(jobID, state, output string, failure error) {
	causeID := ""
	if failure != nil {
		kind, ok := lyraerr.Of(failure)
		if !ok {
			kind = lyraerr.KindInternalFailure
		}
		chain := lyraerr.CauseChain{ID: uuid.NewString(), Kind: kind, Message: failure.Error()}
		causeID = chain.ID
		if b, merr := json.Marshal(chain); merr == nil {
			output = string(b)
		}
	}
	if err := s.DB.FinishJob(jobID, state, output, causeID); err != nil {
		s.Log.Warn().Err(err).Str("job_id", jobID).Msg("finish job failed")
	}
}

// Cancel requests cooperative cancellation of a running job by cancelling
// its context; handlers observe ctx.Done() at their suspension points.
func (s *Scheduler) Cancel(jobID string) {
	s.mu.Lock()
	cancel, ok := s.cancelFuncs[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopTask implements stop_task(mode): graceful drains running jobs
// without accepting new ones; immediate cancels running jobs but keeps
// partial results; full does immediate plus removes queued jobs.
func (s *Scheduler) StopTask(taskID, mode string) error {
	s.mu.Lock()
	s.drainingTasks[taskID] = true
	s.mu.Unlock()

	switch mode {
	case "graceful":
		return nil
	case "immediate", "full":
		return s.DB.CancelJobsForTask(taskID, mode == "full")
	default:
		return fmt.Errorf("%w: unknown stop mode %q", lyraerr.ErrSchemaViolation, mode)
	}
}
