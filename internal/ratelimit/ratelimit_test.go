package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lyra-research/lyra/internal/breaker"
)

func TestWaitPacesAtConfiguredQPS(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "example.com", 10); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	elapsed := time.Since(start)
	// 3 calls at 10qps with a burst of 1: the 2nd and 3rd calls each wait
	// ~100ms, so total should be at least ~150ms and well under 1s.
	if elapsed < 100*time.Millisecond {
		t.Fatalf("expected pacing to introduce delay, elapsed=%v", elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("pacing took too long: %v", elapsed)
	}
}

func TestWaitDisabledWhenQPSNonPositive(t *testing.T) {
	l := New(nil)
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(context.Background(), "k", 0); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("expected no pacing when qps<=0")
	}
}

func TestWaitFailsFastWhenBreakerOpen(t *testing.T) {
	br := breaker.New(breaker.Config{FailureThreshold: 0.1})
	for i := 0; i < 5; i++ {
		br.RecordFailure("engine-a", false)
	}
	l := New(br)
	err := l.Wait(context.Background(), "engine-a", 1)
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected breaker.ErrOpen, got %v", err)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := New(nil)
	// Drain the burst token so the next call must wait.
	if err := l.Wait(context.Background(), "k", 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "k", 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
