// Package ratelimit implements the cooperative rate limiter (C3): per-key
// QPS pacing (per-domain for fetches, per-engine for SERP requests) against
// a monotonic clock, honoring breaker state so a caller never waits on a
// key whose breaker is open.
//
// This is the sole component in the system allowed to block the caller;
// every other component either returns immediately or defers to the
// scheduler's suspension points. No repo in the corpus implements a rate
// limiter, so the token-bucket mechanics here are original; the per-key
// map-of-state shape follows breaker.Breaker's own layout for consistency
// within this codebase.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyra-research/lyra/internal/breaker"
)

type bucketState struct {
	qps      float64
	tokens   float64
	lastFill time.Time
}

// Limiter paces calls per key using a token bucket refilled at qps tokens
// per second and holding at most one token, so calls never burst.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
	now     func() time.Time
	br      *breaker.Breaker
}

// New creates a limiter. br may be nil if breaker-awareness is not needed
// (e.g. in isolated tests); production callers always wire the shared
// breaker so an open breaker fails fast instead of queuing behind the
// limiter.
func New(br *breaker.Breaker) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucketState),
		now:     time.Now,
		br:      br,
	}
}

func (l *Limiter) bucket(key string, qps float64) *bucketState {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucketState{qps: qps, tokens: 1, lastFill: l.now()}
		l.buckets[key] = b
		return b
	}
	b.qps = qps
	return b
}

// Wait blocks until a token for key is available, at the given qps, or
// returns early with breaker.ErrOpen if key's breaker is open, or with
// ctx.Err() if ctx is cancelled first. qps <= 0 disables pacing (returns
// immediately).
func (l *Limiter) Wait(ctx context.Context, key string, qps float64) error {
	if qps <= 0 {
		return nil
	}
	if l.br != nil {
		if err := l.br.Allow(key); err != nil {
			return fmt.Errorf("rate limiter: %s: %w", key, err)
		}
	}

	for {
		l.mu.Lock()
		b := l.bucket(key, qps)
		now := l.now()
		elapsed := now.Sub(b.lastFill).Seconds()
		b.tokens += elapsed * b.qps
		if b.tokens > 1 {
			b.tokens = 1
		}
		b.lastFill = now

		if b.tokens >= 1 {
			b.tokens -= 1
			l.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		wait := time.Duration(deficit / b.qps * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
