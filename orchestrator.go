package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lattiq/dispatch/internal/events"
	"github.com/lattiq/dispatch/internal/providers"
)

// Orchestrator implements the Dispatcher interface.
// All methods are safe for concurrent use.
type Orchestrator struct {
	config    Config
	clock     Clock
	logger    zerolog.Logger
	logCloser io.Closer
	tracer    trace.Tracer
	inst      *instruments

	store     *StatusStore
	guard     *IdempotencyGuard
	limiter   *RateLimiter
	breaker   *CircuitBreaker
	chain     *ProviderChain
	publisher events.Publisher

	stopJanitor context.CancelFunc
	wg          sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates an orchestrator with the given configuration.
// The orchestrator must be closed when no longer needed to release resources.
func New(config Config, opts ...Option) (*Orchestrator, error) {
	// Apply functional options
	for _, opt := range opts {
		opt(&config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	logger, logCloser, err := newLogger(config.Monitoring.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	inst, err := newInstruments(config.Monitoring.Metrics)
	if err != nil {
		closeQuietly(logCloser)
		return nil, fmt.Errorf("failed to create metric instruments: %w", err)
	}

	o := &Orchestrator{
		config:    config,
		clock:     config.Clock,
		logger:    logger,
		logCloser: logCloser,
		tracer:    newTracer(config.Monitoring.Tracing),
		inst:      inst,
		store:     NewStatusStore(),
	}
	o.guard = NewIdempotencyGuard(o.store)
	o.limiter = NewRateLimiter(config.RateLimit, o.clock, logger)

	links, err := buildLinks(config)
	if err != nil {
		closeQuietly(logCloser)
		return nil, err
	}

	names := make([]string, len(links))
	for i, link := range links {
		names[i] = link.provider.Name()
	}
	o.breaker = NewCircuitBreaker(config.CircuitBreaker, o.clock, logger, names)
	o.breaker.onTransition = inst.recordTransition

	retry := newRetryScheduler(o.breaker, o.clock, logger, o.tracer, inst)
	o.chain = newProviderChain(links, retry, logger, o.tracer)

	if o.publisher, err = newPublisher(config.Events); err != nil {
		closeQuietly(logCloser)
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	if config.RateLimit.Enabled && config.RateLimit.CleanupInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		o.stopJanitor = cancel
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			ticker := time.NewTicker(config.RateLimit.CleanupInterval)
			defer ticker.Stop()
			o.limiter.runJanitor(ctx, ticker.C)
		}()
	}

	logger.Info().
		Object("build", GetVersionInfo()).
		Strs("providers", names).
		Bool("rate_limit", config.RateLimit.Enabled).
		Bool("circuit_breaker", config.CircuitBreaker.Enabled).
		Str("events", string(config.Events.Type)).
		Msg("dispatch orchestrator initialized")

	return o, nil
}

// NewOrchestrator creates an orchestrator over providers, in fallback order,
// starting from DefaultConfig.
func NewOrchestrator(providers []Provider, opts ...Option) (*Orchestrator, error) {
	config := DefaultConfig()
	for _, p := range providers {
		config.Providers = append(config.Providers, ProviderConfig{Instance: p})
	}
	return New(config, opts...)
}

// Dispatch delivers msg at most once per key and returns its terminal outcome.
//
// A key with a recorded outcome returns that outcome without contacting any
// provider. Otherwise the recipient's rate limit is checked and the provider
// chain is walked. Provider failures produce OutcomeFailed, not an error.
// The error is non-nil only for a closed orchestrator, an invalid message, or
// a ctx that ended before an outcome was recorded; in the last case the key
// may be dispatched again.
//
// Outcome events are published in the background after the outcome is
// recorded, so a slow event sink never delays Dispatch. Close waits for
// pending events.
func (o *Orchestrator) Dispatch(ctx context.Context, msg *Message) (Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "dispatch.Orchestrator.Dispatch")
	defer span.End()

	if o.isClosed() {
		span.RecordError(ErrClosed)
		span.SetStatus(codes.Error, ErrClosed.Error())
		return OutcomeUnknown, ErrClosed
	}

	if err := msg.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return OutcomeUnknown, err
	}

	span.SetAttributes(attribute.String("dispatch.key", msg.Key))

	if r, ok := o.guard.Check(msg.Key); ok {
		outcome := o.duplicateOutcome(r.Outcome)
		o.logger.Debug().
			Str("key", msg.Key).
			Str("outcome", outcome.String()).
			Msg("duplicate dispatch")
		span.SetAttributes(
			attribute.String("dispatch.outcome", outcome.String()),
			attribute.Bool("dispatch.duplicate", true),
		)
		span.SetStatus(codes.Ok, "duplicate")
		return outcome, nil
	}

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return OutcomeUnknown, err
	}

	receipt, duplicate, err := o.guard.Do(ctx, msg.Key, func() (Receipt, error) {
		return o.run(ctx, msg)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch abandoned")
		return OutcomeUnknown, err
	}

	outcome := receipt.Outcome
	if duplicate {
		outcome = o.duplicateOutcome(outcome)
	}

	span.SetAttributes(
		attribute.String("dispatch.outcome", outcome.String()),
		attribute.Bool("dispatch.duplicate", duplicate),
	)
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "all providers failed")
	} else {
		span.SetStatus(codes.Ok, outcome.String())
	}
	return outcome, nil
}

// DispatchBatch dispatches msgs concurrently, bounded by Batch.Concurrency.
// Outcomes are returned in input order. Messages that could not be
// dispatched keep OutcomeUnknown and are reported in a *BatchError.
func (o *Orchestrator) DispatchBatch(ctx context.Context, msgs []*Message) ([]Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "dispatch.Orchestrator.DispatchBatch",
		trace.WithAttributes(attribute.Int("dispatch.batch.size", len(msgs))),
	)
	defer span.End()

	if o.isClosed() {
		span.RecordError(ErrClosed)
		span.SetStatus(codes.Error, ErrClosed.Error())
		return nil, ErrClosed
	}

	outcomes := make([]Outcome, len(msgs))
	for i := range outcomes {
		outcomes[i] = OutcomeUnknown
	}
	if len(msgs) == 0 {
		span.SetStatus(codes.Ok, "no messages to dispatch")
		return outcomes, nil
	}

	var (
		mu       sync.Mutex
		failures []BatchItemError
		g        errgroup.Group
	)
	g.SetLimit(o.config.Batch.Concurrency)

	for i, msg := range msgs {
		g.Go(func() error {
			outcome, err := o.Dispatch(ctx, msg)
			if err != nil {
				item := BatchItemError{Index: i, Error: err}
				if msg != nil {
					item.Key = msg.Key
				}
				mu.Lock()
				failures = append(failures, item)
				mu.Unlock()
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
		batchErr := &BatchError{
			Message: fmt.Sprintf("%d/%d messages not dispatched", len(failures), len(msgs)),
			Errors:  failures,
			Total:   len(msgs),
			Failed:  len(failures),
		}
		span.RecordError(batchErr)
		span.SetStatus(codes.Error, batchErr.Message)
		return outcomes, batchErr
	}

	span.SetStatus(codes.Ok, "batch dispatched")
	return outcomes, nil
}

// Status returns the recorded outcome for key, or OutcomeUnknown.
func (o *Orchestrator) Status(key string) Outcome {
	return o.store.Get(key)
}

// Receipt returns the full record for key.
func (o *Orchestrator) Receipt(key string) (Receipt, bool) {
	return o.store.Lookup(key)
}

// CircuitState returns the circuit state of the named provider.
func (o *Orchestrator) CircuitState(provider string) CircuitState {
	return o.breaker.State(provider)
}

// Providers returns the provider names in fallback order.
func (o *Orchestrator) Providers() []string {
	return o.chain.Providers()
}

// Close stops background work, waits for pending outcome events, then closes
// the event publisher and any log file. Outcomes recorded after Close has
// begun are not published.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if o.stopJanitor != nil {
		o.stopJanitor()
	}
	o.wg.Wait()

	var errs []error
	if o.publisher != nil {
		if err := o.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	o.logger.Info().Msg("dispatch orchestrator closed")

	if o.logCloser != nil {
		if err := o.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log output: %w", err))
		}
	}

	return errors.Join(errs...)
}

// run is the body of a key's flight.
func (o *Orchestrator) run(ctx context.Context, msg *Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	logger := o.logger.With().Str("key", msg.Key).Str("recipient", msg.Recipient).Logger()

	if !o.limiter.Allow(msg.Recipient) {
		logger.Info().Msg("recipient rate limited")
		return o.record(ctx, Receipt{
			Key:        msg.Key,
			Recipient:  msg.Recipient,
			Outcome:    OutcomeRateLimited,
			Error:      ErrRateLimitExceeded.Error(),
			RecordedAt: o.clock.Now(),
		}), nil
	}

	delivery, err := o.chain.Deliver(ctx, msg)
	if err != nil {
		logger.Warn().Err(err).Int("attempts", delivery.Attempts).Msg("dispatch abandoned")
		return Receipt{}, err
	}

	receipt := Receipt{
		Key:        msg.Key,
		Recipient:  msg.Recipient,
		Attempts:   delivery.Attempts,
		RecordedAt: o.clock.Now(),
	}
	if delivery.Sent() {
		receipt.Outcome = OutcomeSent
		receipt.Provider = delivery.Provider
		receipt.MessageID = delivery.Result.MessageID
	} else {
		receipt.Outcome = OutcomeFailed
		if err := delivery.Err(); err != nil {
			receipt.Error = err.Error()
		}
	}

	return o.record(ctx, receipt), nil
}

// record stores r as the key's terminal receipt and queues its event.
func (o *Orchestrator) record(ctx context.Context, r Receipt) Receipt {
	stored, written := o.store.Record(r)
	if !written {
		return stored
	}

	o.inst.recordOutcome(ctx, stored.Outcome)

	event := o.logger.Info()
	if stored.Outcome == OutcomeFailed {
		event = o.logger.Error()
	}
	event.
		Str("key", stored.Key).
		Str("outcome", stored.Outcome.String()).
		Str("provider", stored.Provider).
		Str("message_id", stored.MessageID).
		Int("attempts", stored.Attempts).
		Str("error", stored.Error).
		Msg("dispatch outcome recorded")

	o.announce(ctx, stored)
	return stored
}

// announce publishes r on its own goroutine, outside the key's flight.
func (o *Orchestrator) announce(ctx context.Context, r Receipt) {
	if o.publisher == nil {
		return
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.logger.Warn().Str("key", r.Key).Msg("orchestrator closing, outcome event dropped")
		return
	}

	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.publish(ctx, r)
	}()
}

func (o *Orchestrator) publish(ctx context.Context, r Receipt) {
	if o.config.Events.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Events.Timeout)
		defer cancel()
	}

	err := o.publisher.Publish(ctx, events.Event{
		Key:        r.Key,
		Recipient:  r.Recipient,
		Outcome:    r.Outcome.String(),
		Provider:   r.Provider,
		MessageID:  r.MessageID,
		Attempts:   r.Attempts,
		Error:      r.Error,
		OccurredAt: r.RecordedAt,
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("key", r.Key).Msg("failed to publish outcome event")
	}
}

func (o *Orchestrator) duplicateOutcome(stored Outcome) Outcome {
	if o.config.Idempotency.ReportDuplicates && stored == OutcomeSent {
		return OutcomeAlreadySent
	}
	return stored
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// buildLinks creates the chain links in configuration order.
func buildLinks(config Config) ([]chainLink, error) {
	links := make([]chainLink, 0, len(config.Providers))
	seen := make(map[string]bool, len(config.Providers))

	for i, pc := range config.Providers {
		p := pc.Instance
		if p == nil {
			var err error
			p, err = providers.New(string(pc.Type), pc.Settings)
			if err != nil {
				return nil, fmt.Errorf("failed to create provider %d (%s): %w", i, pc.Type, err)
			}
		}
		if pc.Name != "" {
			p = namedProvider{Provider: p, name: pc.Name}
		}

		name := p.Name()
		if strings.TrimSpace(name) == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("providers[%d].name", i), Message: "provider name is required"}
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
		}
		seen[name] = true

		policy := AttemptPolicy{Retry: config.Retry, Timeout: pc.Timeout}
		if pc.Retry != nil {
			policy.Retry = *pc.Retry
		}
		if pc.Throttle.RatePerSecond > 0 {
			burst := pc.Throttle.Burst
			if burst < 1 {
				burst = 1
			}
			policy.throttle = rate.NewLimiter(rate.Limit(pc.Throttle.RatePerSecond), burst)
		}

		links = append(links, chainLink{provider: p, policy: policy})
	}

	return links, nil
}

func newPublisher(config EventsConfig) (events.Publisher, error) {
	switch config.Type {
	case EventSinkNATS:
		p, err := events.NewNATS(config.URL, config.Topic)
		if err != nil {
			return nil, err
		}
		return p, nil
	case EventSinkKafka:
		p, err := events.NewKafka(config.Brokers, config.Topic)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
