package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(clock Clock, max int, window time.Duration) *RateLimiter {
	return NewRateLimiter(RateLimitConfig{Enabled: true, Max: max, Window: window}, clock, zerolog.Nop())
}

func TestRateLimiterFixedWindow(t *testing.T) {
	clock := newFakeClock()
	rl := newTestLimiter(clock, 5, time.Minute)

	for i := 0; i < 5; i++ {
		if !rl.Allow("user@example.com") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("user@example.com") {
		t.Fatal("sixth request in the window should be rejected")
	}
	if got := rl.Remaining("user@example.com"); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}

	// Other recipients have their own window.
	if !rl.Allow("other@example.com") {
		t.Fatal("other recipient should be allowed")
	}

	clock.Advance(59 * time.Second)
	if rl.Allow("user@example.com") {
		t.Fatal("window has not elapsed yet")
	}

	clock.Advance(time.Second)
	if !rl.Allow("user@example.com") {
		t.Fatal("window should restart once it has fully elapsed")
	}
	if got := rl.Remaining("user@example.com"); got != 4 {
		t.Fatalf("expected 4 remaining in the new window, got %d", got)
	}
}

func TestRateLimiterNormalizesRecipient(t *testing.T) {
	rl := newTestLimiter(newFakeClock(), 1, time.Minute)

	if !rl.Allow("User@Example.com") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("  user@example.com ") {
		t.Fatal("recipient identity should ignore case and surrounding space")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: false, Max: 1, Window: time.Minute}, newFakeClock(), zerolog.Nop())
	for i := 0; i < 10; i++ {
		if !rl.Allow("user@example.com") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestRateLimiterPrune(t *testing.T) {
	clock := newFakeClock()
	rl := newTestLimiter(clock, 2, time.Minute)

	rl.Allow("a@example.com")
	clock.Advance(30 * time.Second)
	rl.Allow("b@example.com")

	clock.Advance(30 * time.Second)
	if n := rl.Prune(); n != 1 {
		t.Fatalf("expected one expired window, pruned %d", n)
	}
	if got := rl.Remaining("b@example.com"); got != 1 {
		t.Fatalf("live window should survive pruning, remaining %d", got)
	}
}

func TestRateLimiterJanitorPrunesOnTick(t *testing.T) {
	clock := newFakeClock()
	rl := newTestLimiter(clock, 2, time.Minute)
	rl.Allow("a@example.com")

	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		rl.runJanitor(ctx, tick)
	}()

	// Expiry follows the limiter's clock, not the tick time.
	clock.Advance(time.Minute)
	tick <- time.Now()
	// Received only after the first prune returns.
	tick <- time.Now()

	rl.mu.Lock()
	remaining := len(rl.windows)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected expired window pruned, %d left", remaining)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
