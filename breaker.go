package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CircuitState represents the state of a provider's circuit.
type CircuitState int

const (
	// CircuitClosed indicates normal operation.
	CircuitClosed CircuitState = iota

	// CircuitOpen indicates attempts are rejected until the cooldown elapses.
	CircuitOpen

	// CircuitHalfOpen indicates a single trial attempt is allowed.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ProviderState is a point-in-time view of one provider's circuit.
type ProviderState struct {
	ConsecutiveFailures int
	State               CircuitState
	OpenedAt            time.Time
}

type providerCircuit struct {
	mu       sync.Mutex
	state    ProviderState
	trial    bool
	provider string
}

// CircuitBreaker tracks consecutive failures per provider. Each provider has
// its own lock so that providers never contend with each other.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	clock        Clock
	logger       zerolog.Logger
	onTransition func(provider string, from, to CircuitState)

	// circuits is populated at construction and never modified afterwards.
	circuits map[string]*providerCircuit
}

// NewCircuitBreaker creates a breaker with one closed circuit per provider name.
func NewCircuitBreaker(config CircuitBreakerConfig, clock Clock, logger zerolog.Logger, providers []string) *CircuitBreaker {
	if clock == nil {
		clock = SystemClock()
	}
	cb := &CircuitBreaker{
		config:   config,
		clock:    clock,
		logger:   logger.With().Str("component", "circuit_breaker").Logger(),
		circuits: make(map[string]*providerCircuit, len(providers)),
	}
	for _, name := range providers {
		cb.circuits[name] = &providerCircuit{provider: name}
	}
	return cb
}

// MayAttempt reports whether provider may be attempted now. An open circuit
// whose cooldown has elapsed moves to half-open and admits exactly one trial
// attempt; trial is true only for the caller holding that slot.
func (cb *CircuitBreaker) MayAttempt(provider string) (allowed, trial bool) {
	c, ok := cb.circuits[provider]
	if !ok || !cb.config.Enabled {
		return true, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.State {
	case CircuitClosed:
		return true, false
	case CircuitOpen:
		if !cb.cooledDown(c) {
			return false, false
		}
		cb.transition(c, CircuitHalfOpen)
		c.trial = true
		return true, true
	case CircuitHalfOpen:
		if c.trial {
			return false, false
		}
		c.trial = true
		return true, true
	default:
		return false, false
	}
}

// RecordSuccess resets the failure streak and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	c, ok := cb.circuits[provider]
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.ConsecutiveFailures = 0
	c.trial = false
	if c.state.State != CircuitClosed {
		cb.transition(c, CircuitClosed)
		c.state.OpenedAt = time.Time{}
	}
}

// RecordFailure extends the failure streak, opening the circuit when the
// threshold is reached or when the half-open trial fails.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	c, ok := cb.circuits[provider]
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.ConsecutiveFailures++
	if !cb.config.Enabled {
		return
	}

	switch c.state.State {
	case CircuitClosed:
		if c.state.ConsecutiveFailures >= cb.config.FailureThreshold {
			c.state.OpenedAt = cb.clock.Now()
			cb.transition(c, CircuitOpen)
		}
	case CircuitHalfOpen:
		c.trial = false
		c.state.OpenedAt = cb.clock.Now()
		cb.transition(c, CircuitOpen)
	}
}

// ReleaseTrial gives up the half-open trial slot without recording a result.
// Only the caller MayAttempt granted the trial to may release it; an attempt
// admitted while closed must not call it.
func (cb *CircuitBreaker) ReleaseTrial(provider string) {
	c, ok := cb.circuits[provider]
	if !ok {
		return
	}

	c.mu.Lock()
	c.trial = false
	c.mu.Unlock()
}

// State returns the provider's circuit state as Snapshot reports it.
func (cb *CircuitBreaker) State(provider string) CircuitState {
	return cb.Snapshot(provider).State
}

// Snapshot returns a copy of the provider's state. The half-open transition
// itself happens on the next MayAttempt, but an open circuit whose cooldown
// has elapsed is already reported as half-open.
func (cb *CircuitBreaker) Snapshot(provider string) ProviderState {
	c, ok := cb.circuits[provider]
	if !ok {
		return ProviderState{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.state
	if cb.config.Enabled && snap.State == CircuitOpen && cb.cooledDown(c) {
		snap.State = CircuitHalfOpen
	}
	return snap
}

// cooledDown must be called with c.mu held.
func (cb *CircuitBreaker) cooledDown(c *providerCircuit) bool {
	return cb.clock.Now().Sub(c.state.OpenedAt) >= cb.config.Cooldown
}

// transition must be called with c.mu held.
func (cb *CircuitBreaker) transition(c *providerCircuit, to CircuitState) {
	from := c.state.State
	if from == to {
		return
	}
	c.state.State = to

	cb.logger.Info().
		Str("provider", c.provider).
		Str("from", from.String()).
		Str("to", to.String()).
		Int("consecutive_failures", c.state.ConsecutiveFailures).
		Msg("circuit state changed")

	if cb.onTransition != nil {
		cb.onTransition(c.provider, from, to)
	}
}
