package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lattiq/dispatch/internal/events"
)

var errProvider = errors.New("provider unavailable")

// fakeClock is a virtual clock; Sleep advances it instantly.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// scriptedProvider returns the scripted errors in order, repeating the last
// entry once the script runs out. An empty script always succeeds.
type scriptedProvider struct {
	name   string
	script []error

	// hold, when set, blocks every Send until it is closed or ctx ends.
	hold    chan struct{}
	started chan struct{}

	calls atomic.Int64
	mu    sync.Mutex
	keys  []string
}

func newScripted(name string, script ...error) *scriptedProvider {
	return &scriptedProvider{name: name, script: script}
}

func alwaysFailing(name string) *scriptedProvider {
	return newScripted(name, errProvider)
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	n := int(p.calls.Add(1))

	p.mu.Lock()
	p.keys = append(p.keys, msg.Key)
	p.mu.Unlock()

	if p.started != nil && n == 1 {
		close(p.started)
	}
	if p.hold != nil {
		select {
		case <-p.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var err error
	switch {
	case len(p.script) == 0:
	case n <= len(p.script):
		err = p.script[n-1]
	default:
		err = p.script[len(p.script)-1]
	}
	if err != nil {
		return nil, err
	}
	return &SendResult{MessageID: p.name + "-" + msg.Key}, nil
}

func (p *scriptedProvider) Calls() int {
	return int(p.calls.Load())
}

// recordingPublisher captures outcome events.
type recordingPublisher struct {
	// block, when set, holds every Publish until it is closed or ctx ends.
	block chan struct{}

	mu     sync.Mutex
	events []events.Event
	closed bool
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *recordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func testInstruments(t *testing.T) *instruments {
	t.Helper()
	inst, err := newInstruments(MetricsConfig{})
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func testRetryScheduler(t *testing.T, breaker *CircuitBreaker, clock Clock) *RetryScheduler {
	t.Helper()
	return newRetryScheduler(breaker, clock, zerolog.Nop(), newTracer(TracingConfig{}), testInstruments(t))
}

func newTestOrchestrator(t *testing.T, clock *fakeClock, providers []Provider, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithClock(clock),
		WithLogger(zerolog.Nop()),
		WithoutTracing(),
		WithoutMetrics(),
	}
	o, err := NewOrchestrator(providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func testMessage(key, recipient string) *Message {
	return &Message{
		Key:       key,
		Recipient: recipient,
		Subject:   "hello",
		Body:      "hello there",
	}
}
