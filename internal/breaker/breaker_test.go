package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestClosedAllowsByDefault(t *testing.T) {
	b := New(Config{})
	if err := b.Allow("engine-a"); err != nil {
		t.Fatalf("expected closed breaker to allow, got %v", err)
	}
}

func TestOpensAfterRepeatedFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 0.4})
	for i := 0; i < 10; i++ {
		b.RecordFailure("domain-x", false)
	}
	if err := b.Allow("domain-x"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen after repeated failures, got %v", err)
	}
	if got := b.State("domain-x"); got != "open" {
		t.Fatalf("State() = %q, want open", got)
	}
}

func TestOpensOnCaptchaSpike(t *testing.T) {
	b := New(Config{CaptchaThreshold: 0.3})
	for i := 0; i < 5; i++ {
		b.RecordFailure("engine-b", true)
	}
	if err := b.Allow("engine-b"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen after captcha spike, got %v", err)
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := New(Config{
		FailureThreshold: 0.1,
		MinCooldown:      1 * time.Millisecond,
		MaxCooldown:      2 * time.Millisecond,
	})
	for i := 0; i < 5; i++ {
		b.RecordFailure("domain-y", false)
	}
	if err := b.Allow("domain-y"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected open immediately after tripping, got %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if err := b.Allow("domain-y"); err != nil {
		t.Fatalf("expected half-open probe to be allowed after cooldown, got %v", err)
	}
	// A second concurrent call must not get its own probe.
	if err := b.Allow("domain-y"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected second concurrent call to be rejected during in-flight probe, got %v", err)
	}

	b.RecordSuccess("domain-y", 10*time.Millisecond)
	if got := b.State("domain-y"); got != "closed" {
		t.Fatalf("State() after successful probe = %q, want closed", got)
	}
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := New(Config{
		FailureThreshold: 0.1,
		MinCooldown:      1 * time.Millisecond,
		MaxCooldown:      2 * time.Millisecond,
	})
	for i := 0; i < 5; i++ {
		b.RecordFailure("domain-z", false)
	}
	time.Sleep(5 * time.Millisecond)
	if err := b.Allow("domain-z"); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	b.RecordFailure("domain-z", false)
	if got := b.State("domain-z"); got != "open" {
		t.Fatalf("State() after failed probe = %q, want open", got)
	}
}

func TestCooldownMonotonicInFailuresAndClamped(t *testing.T) {
	cfg := Config{
		BaseCooldown: 1 * time.Second,
		MinCooldown:  1 * time.Second,
		MaxCooldown:  10 * time.Second,
		ExpBase:      2.0,
		JitterFrac:   0,
	}.filled()

	d0 := Cooldown(cfg, 0, 0)
	d3 := Cooldown(cfg, 3, 0)
	d10 := Cooldown(cfg, 10, 0)

	if d3 <= d0 {
		t.Fatalf("expected cooldown to grow with failures: d0=%v d3=%v", d0, d3)
	}
	if d10 != cfg.MaxCooldown {
		t.Fatalf("expected cooldown to clamp to max, got %v want %v", d10, cfg.MaxCooldown)
	}
}

func TestCooldownClampedToMin(t *testing.T) {
	cfg := Config{
		BaseCooldown: 1 * time.Millisecond,
		MinCooldown:  500 * time.Millisecond,
		MaxCooldown:  time.Second,
		ExpBase:      2.0,
	}.filled()
	d := Cooldown(cfg, 0, 0)
	if d < cfg.MinCooldown {
		t.Fatalf("expected cooldown clamped to min %v, got %v", cfg.MinCooldown, d)
	}
}
