// Package breaker implements the per-key circuit breaker (C2): one breaker
// per logical key (engine name or domain), tracking success/latency/CAPTCHA
// rate with an exponential moving average and gating callers through a
// closed/open/half-open state machine with exponential cooldown.
//
// No repo in the corpus implements a circuit breaker; the state machine
// here is original. Its arithmetic helpers follow internal/budget's
// style: small pure functions with explicit clamping, composed by a
// thin stateful wrapper.
package breaker

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the breaker for a key is open.
var ErrOpen = errors.New("breaker: open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Config controls the EMA decay, opening thresholds, and cooldown shape.
// Zero-value Config is filled with sane defaults by New.
type Config struct {
	// EMAHalfLife is the half-life of the success/latency/captcha EMAs,
	// approximating a rolling 1h window.
	EMAHalfLife time.Duration

	// FailureThreshold opens the breaker when the failure EMA (1 -
	// success EMA) crosses this value.
	FailureThreshold float64
	// CaptchaThreshold opens the breaker when the CAPTCHA-rate EMA
	// crosses this value.
	CaptchaThreshold float64

	BaseCooldown time.Duration
	MinCooldown  time.Duration
	MaxCooldown  time.Duration
	ExpBase      float64
	JitterFrac   float64
}

// DefaultConfig mirrors typical breaker tuning: 1h EMA half-life, open above
// 50% failure or 20% CAPTCHA rate, cooldown from 5s doubling up to 10m.
func DefaultConfig() Config {
	return Config{
		EMAHalfLife:      time.Hour,
		FailureThreshold: 0.5,
		CaptchaThreshold: 0.2,
		BaseCooldown:     5 * time.Second,
		MinCooldown:      5 * time.Second,
		MaxCooldown:      10 * time.Minute,
		ExpBase:          2.0,
		JitterFrac:       0.2,
	}
}

func (c Config) filled() Config {
	d := DefaultConfig()
	if c.EMAHalfLife <= 0 {
		c.EMAHalfLife = d.EMAHalfLife
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.CaptchaThreshold <= 0 {
		c.CaptchaThreshold = d.CaptchaThreshold
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = d.BaseCooldown
	}
	if c.MinCooldown <= 0 {
		c.MinCooldown = d.MinCooldown
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = d.MaxCooldown
	}
	if c.ExpBase <= 1 {
		c.ExpBase = d.ExpBase
	}
	if c.JitterFrac < 0 {
		c.JitterFrac = d.JitterFrac
	}
	return c
}

type keyState struct {
	st             state
	successEMA     float64
	latencyEMA     float64
	captchaEMA     float64
	consecutiveFails int
	openedAt       time.Time
	cooldown       time.Duration
	lastEventAt    time.Time
	halfOpenProbeInFlight bool
}

// Breaker gates calls keyed by an arbitrary string (engine name, domain).
type Breaker struct {
	cfg  Config
	mu   sync.Mutex
	keys map[string]*keyState
	now  func() time.Time
	rand *rand.Rand
}

// New creates a breaker with the given config (zero value uses defaults).
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:  cfg.filled(),
		keys: make(map[string]*keyState),
		now:  time.Now,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *Breaker) stateFor(key string) *keyState {
	ks, ok := b.keys[key]
	if !ok {
		ks = &keyState{st: stateClosed, successEMA: 1.0, lastEventAt: b.now()}
		b.keys[key] = ks
	}
	return ks
}

// Allow reports whether a call against key may proceed. It transitions
// open -> half-open after cooldown elapses, admitting exactly one probe.
func (b *Breaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks := b.stateFor(key)

	switch ks.st {
	case stateClosed:
		return nil
	case stateOpen:
		if b.now().Sub(ks.openedAt) >= ks.cooldown {
			ks.st = stateHalfOpen
			ks.halfOpenProbeInFlight = true
			return nil
		}
		return ErrOpen
	case stateHalfOpen:
		if ks.halfOpenProbeInFlight {
			return ErrOpen
		}
		ks.halfOpenProbeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call, decaying the failure/captcha
// EMAs and closing the breaker if it was half-open.
func (b *Breaker) RecordSuccess(key string, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks := b.stateFor(key)
	w := b.decayWeight(ks)
	b.decay(ks)
	ks.successEMA = ema(ks.successEMA, 1.0, w)
	ks.latencyEMA = ema(ks.latencyEMA, float64(latency), w)
	ks.captchaEMA = ema(ks.captchaEMA, 0.0, w)
	ks.consecutiveFails = 0

	if ks.st == stateHalfOpen {
		ks.st = stateClosed
		ks.halfOpenProbeInFlight = false
		ks.cooldown = 0
	}
}

// RecordFailure reports a failed call. captcha marks the failure as a
// CAPTCHA/challenge signal, which feeds the CAPTCHA-rate EMA in addition to
// the failure EMA.
func (b *Breaker) RecordFailure(key string, captcha bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks := b.stateFor(key)
	w := b.decayWeight(ks)
	b.decay(ks)
	ks.successEMA = ema(ks.successEMA, 0.0, w)
	if captcha {
		ks.captchaEMA = ema(ks.captchaEMA, 1.0, w)
	} else {
		ks.captchaEMA = ema(ks.captchaEMA, 0.0, w)
	}
	ks.consecutiveFails++

	if ks.st == stateHalfOpen {
		// Probe failed: reopen with the next backoff step.
		ks.halfOpenProbeInFlight = false
		b.open(ks)
		return
	}
	failureEMA := 1.0 - ks.successEMA
	if failureEMA >= b.cfg.FailureThreshold || ks.captchaEMA >= b.cfg.CaptchaThreshold {
		b.open(ks)
	}
}

func (b *Breaker) open(ks *keyState) {
	ks.st = stateOpen
	ks.openedAt = b.now()
	ks.cooldown = Cooldown(b.cfg, ks.consecutiveFails, b.rand.Float64())
}

// decayWeight returns an EMA smoothing factor derived from the elapsed time
// since the last event and the configured half-life, never below
// minEventWeight so back-to-back events still move the averages; it is
// recomputed on every call so infrequent keys do not retain stale
// statistics forever.
func (b *Breaker) decayWeight(ks *keyState) float64 {
	const minEventWeight = 0.3
	elapsed := b.now().Sub(ks.lastEventAt)
	if elapsed <= 0 || b.cfg.EMAHalfLife <= 0 {
		return minEventWeight
	}
	decay := math.Exp(-math.Ln2 * elapsed.Seconds() / b.cfg.EMAHalfLife.Seconds())
	return math.Max(minEventWeight, 1-decay)
}

func (b *Breaker) decay(ks *keyState) {
	ks.lastEventAt = b.now()
}

func ema(prev, sample, weight float64) float64 {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	return prev*(1-weight) + sample*weight
}

// Cooldown computes base * expbase^failures + jitter, clamped to
// [min, max]. jitterSeed is a caller-supplied value in [0,1) so this
// function stays pure and testable; Breaker supplies it from its own PRNG.
func Cooldown(cfg Config, consecutiveFails int, jitterSeed float64) time.Duration {
	cfg = cfg.filled()
	base := float64(cfg.BaseCooldown)
	grown := base * math.Pow(cfg.ExpBase, float64(consecutiveFails))
	jitter := grown * cfg.JitterFrac * jitterSeed
	d := time.Duration(grown + jitter)
	if d < cfg.MinCooldown {
		d = cfg.MinCooldown
	}
	if d > cfg.MaxCooldown {
		d = cfg.MaxCooldown
	}
	return d
}

// State reports the current coarse state of a key's breaker: "closed",
// "open", or "half_open". Used by get_status's engine-health reporting.
func (b *Breaker) State(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks := b.stateFor(key)
	switch ks.st {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// SuccessRate reports the current success EMA for a key, used by C5's
// weighted engine draw.
func (b *Breaker) SuccessRate(key string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(key).successEMA
}
