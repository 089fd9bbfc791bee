package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter enforces a fixed counting window per recipient: at most Max
// accepted dispatches per Window. A window starts on the first dispatch to a
// recipient and restarts once Window has elapsed.
type RateLimiter struct {
	config RateLimitConfig
	clock  Clock
	logger zerolog.Logger

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	count int
	start time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig, clock Clock, logger zerolog.Logger) *RateLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &RateLimiter{
		config:  config,
		clock:   clock,
		logger:  logger.With().Str("component", "rate_limiter").Logger(),
		windows: make(map[string]*rateWindow),
	}
}

// Allow reports whether one more dispatch to recipient fits in its window,
// consuming a slot when it does.
func (rl *RateLimiter) Allow(recipient string) bool {
	if !rl.config.Enabled {
		return true
	}

	id := normalizeRecipient(recipient)
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.current(id, now)
	if w.count >= rl.config.Max {
		rl.logger.Debug().
			Str("recipient", id).
			Int("count", w.count).
			Dur("retry_after", w.start.Add(rl.config.Window).Sub(now)).
			Msg("rate limit exceeded")
		return false
	}
	w.count++
	return true
}

// Remaining returns how many more dispatches recipient may make in the current window.
func (rl *RateLimiter) Remaining(recipient string) int {
	if !rl.config.Enabled {
		return -1
	}

	id := normalizeRecipient(recipient)
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[id]
	if !ok || rl.expired(w, now) {
		return rl.config.Max
	}
	return rl.config.Max - w.count
}

// Prune drops expired windows and returns how many were removed.
func (rl *RateLimiter) Prune() int {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, w := range rl.windows {
		if rl.expired(w, now) {
			delete(rl.windows, id)
			removed++
		}
	}
	return removed
}

// runJanitor prunes expired windows on every tick until ctx is done. The
// cadence comes from the caller, normally a wall-clock ticker; whether a
// window has expired is still decided by the limiter's Clock.
func (rl *RateLimiter) runJanitor(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if n := rl.Prune(); n > 0 {
				rl.logger.Debug().Int("removed", n).Msg("pruned expired rate windows")
			}
		}
	}
}

// current returns the live window for id, starting a new one if needed.
// Callers must hold rl.mu.
func (rl *RateLimiter) current(id string, now time.Time) *rateWindow {
	w, ok := rl.windows[id]
	if !ok {
		w = &rateWindow{start: now}
		rl.windows[id] = w
		return w
	}
	if rl.expired(w, now) {
		w.count = 0
		w.start = now
	}
	return w
}

func (rl *RateLimiter) expired(w *rateWindow, now time.Time) bool {
	return now.Sub(w.start) >= rl.config.Window
}

// normalizeRecipient folds an address to the identity used for rate limiting.
func normalizeRecipient(recipient string) string {
	return strings.ToLower(strings.TrimSpace(recipient))
}
