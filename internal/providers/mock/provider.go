// Package mock provides an in-process provider for local development and
// tests. It never touches the network; behaviour is driven by settings and
// per-message headers.
package mock

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lattiq/dispatch/internal/core"
)

// Scenario enumerates the supported mock behaviours.
type Scenario string

const (
	ScenarioSuccess Scenario = "success"
	ScenarioFailure Scenario = "failure"
	ScenarioFlaky   Scenario = "flaky"

	// HeaderScenario overrides the configured scenario for one message.
	HeaderScenario = "X-Mock-Provider-Scenario"
)

// Provider is a deterministic in-memory provider.
//
// Settings:
//
//	name        provider name (default "mock")
//	scenario    success | failure | flaky (default success)
//	fail_first  number of failures per key before succeeding in flaky mode (default 1)
//	latency     simulated latency, a time.ParseDuration string (default 0)
type Provider struct {
	name      string
	scenario  Scenario
	failFirst int
	latency   time.Duration

	calls atomic.Int64

	mu       sync.Mutex
	attempts map[string]int
}

// NewProvider creates a mock provider from settings.
func NewProvider(settings core.ProviderSettings) (core.Provider, error) {
	return New(settings)
}

// New is NewProvider returning the concrete type so callers can inspect call counts.
func New(settings core.ProviderSettings) (*Provider, error) {
	p := &Provider{
		name:      "mock",
		scenario:  ScenarioSuccess,
		failFirst: 1,
		attempts:  make(map[string]int),
	}

	if name := settings.Get("name"); name != "" {
		p.name = name
	}

	if raw := settings.Get("scenario"); raw != "" {
		s, ok := parseScenario(raw)
		if !ok {
			return nil, core.NewValidationErrorWithValue("scenario", "unknown mock scenario", raw)
		}
		p.scenario = s
	}

	if raw := settings.Get("fail_first"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, core.NewValidationErrorWithValue("fail_first", "must be a non-negative integer", raw)
		}
		p.failFirst = n
	}

	if raw := settings.Get("latency"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return nil, core.NewValidationErrorWithValue("latency", "must be a non-negative duration", raw)
		}
		p.latency = d
	}

	return p, nil
}

// Send simulates a delivery attempt.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	p.calls.Add(1)

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, core.WrapProviderError(p.name, "timeout", ctx.Err())
		case <-timer.C:
		}
	}

	scenario := p.scenario
	if raw, ok := msg.Header(HeaderScenario); ok {
		if s, ok := parseScenario(raw); ok {
			scenario = s
		}
	}

	p.mu.Lock()
	p.attempts[msg.Key]++
	attempt := p.attempts[msg.Key]
	p.mu.Unlock()

	switch scenario {
	case ScenarioFailure:
		return nil, core.NewProviderError(p.name, "mock_failure", "mock: mailbox unavailable")
	case ScenarioFlaky:
		if attempt <= p.failFirst {
			return nil, core.NewProviderError(p.name, "mock_transient", "mock: try again later")
		}
	}

	return &core.SendResult{
		MessageID: "mock-" + uuid.NewString(),
		Provider:  p.name,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"attempt": attempt,
		},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Calls returns the total number of Send invocations.
func (p *Provider) Calls() int {
	return int(p.calls.Load())
}

// Attempts returns the number of Send invocations for one key.
func (p *Provider) Attempts(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[key]
}

func parseScenario(raw string) (Scenario, bool) {
	switch Scenario(strings.ToLower(strings.TrimSpace(raw))) {
	case ScenarioSuccess:
		return ScenarioSuccess, true
	case ScenarioFailure:
		return ScenarioFailure, true
	case ScenarioFlaky:
		return ScenarioFlaky, true
	default:
		return "", false
	}
}
