package dispatch

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// AttemptPolicy bounds the attempts made against a single provider.
type AttemptPolicy struct {
	Retry RetryConfig

	// Timeout is the per-attempt deadline. Zero means none.
	Timeout time.Duration

	// throttle paces attempts against the provider. Nil means unthrottled.
	throttle *rate.Limiter
}

// AttemptReport summarizes the attempts made against one provider.
type AttemptReport struct {
	Provider string

	// Attempts is the number of times the provider was called.
	Attempts int

	// Result is set when the provider accepted the message.
	Result *SendResult

	// Err is the last provider error, or ErrCircuitOpen when the provider was
	// skipped without being called.
	Err error

	// Skipped reports that the circuit was open before the first attempt.
	Skipped bool

	// CircuitOpen reports that attempts stopped because the circuit opened.
	CircuitOpen bool
}

// RetryScheduler runs bounded attempts against one provider with
// exponential backoff between failures.
type RetryScheduler struct {
	breaker *CircuitBreaker
	clock   Clock
	logger  zerolog.Logger
	tracer  trace.Tracer
	inst    *instruments
}

func newRetryScheduler(breaker *CircuitBreaker, clock Clock, logger zerolog.Logger, tracer trace.Tracer, inst *instruments) *RetryScheduler {
	return &RetryScheduler{
		breaker: breaker,
		clock:   clock,
		logger:  logger.With().Str("component", "retry_scheduler").Logger(),
		tracer:  tracer,
		inst:    inst,
	}
}

// Attempt delivers msg through p, retrying failures up to policy.Retry.MaxAttempts.
// The circuit breaker is consulted before every attempt. The returned error is
// non-nil only when ctx ends; provider failures are reported in the AttemptReport.
func (rs *RetryScheduler) Attempt(ctx context.Context, p Provider, msg *Message, policy AttemptPolicy) (AttemptReport, error) {
	name := p.Name()
	report := AttemptReport{Provider: name}

	ctx, span := rs.tracer.Start(ctx, "dispatch.RetryScheduler.Attempt",
		trace.WithAttributes(
			attribute.String("dispatch.key", msg.Key),
			attribute.String("dispatch.provider", name),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int("dispatch.attempts", report.Attempts))
		span.End()
	}()

	logger := rs.logger.With().Str("provider", name).Str("key", msg.Key).Logger()

	for i := 0; i < policy.Retry.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return report, err
		}

		allowed, trial := rs.breaker.MayAttempt(name)
		if !allowed {
			if i == 0 {
				report.Skipped = true
				report.Err = ErrCircuitOpen
				logger.Debug().Msg("provider skipped, circuit open")
			}
			report.CircuitOpen = true
			break
		}

		if err := rs.wait(ctx, policy.throttle); err != nil {
			if trial {
				rs.breaker.ReleaseTrial(name)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return report, err
		}

		report.Attempts++
		result, err := rs.send(ctx, p, msg, policy.Timeout)
		if err == nil {
			rs.breaker.RecordSuccess(name)
			rs.inst.recordAttempt(ctx, name, true)
			if result == nil {
				result = &SendResult{}
			}
			if result.Provider == "" {
				result.Provider = name
			}
			report.Result = result
			report.Err = nil
			span.SetStatus(codes.Ok, "delivered")
			return report, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller gave up; the provider is not blamed for it.
			if trial {
				rs.breaker.ReleaseTrial(name)
			}
			span.RecordError(ctxErr)
			span.SetStatus(codes.Error, "cancelled")
			return report, ctxErr
		}

		rs.breaker.RecordFailure(name)
		rs.inst.recordAttempt(ctx, name, false)
		report.Err = err
		span.RecordError(err)

		logger.Warn().
			Err(err).
			Int("attempt", i+1).
			Int("max_attempts", policy.Retry.MaxAttempts).
			Msg("delivery attempt failed")

		if i == policy.Retry.MaxAttempts-1 {
			break
		}
		if rs.breaker.State(name) != CircuitClosed {
			report.CircuitOpen = true
			break
		}

		delay := rs.Delay(policy.Retry, i)
		rs.inst.recordDelay(ctx, name, delay)
		if err := rs.clock.Sleep(ctx, delay); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return report, err
		}
	}

	span.SetStatus(codes.Error, "provider failed")
	return report, nil
}

// Delay returns the backoff after the failed attempt with 0-based index failed:
// BackoffBase * Multiplier^failed, capped at MaxDelay, plus optional jitter.
func (rs *RetryScheduler) Delay(policy RetryConfig, failed int) time.Duration {
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	raw := float64(policy.BackoffBase) * math.Pow(multiplier, float64(failed))
	delay := time.Duration(math.MaxInt64)
	if raw < math.MaxInt64 {
		delay = time.Duration(raw)
	}

	// Cap the delay at MaxDelay
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}

	// Add jitter if enabled
	if policy.Jitter {
		// Add up to 10% jitter using cryptographically secure random
		maxJitter := int64(float64(delay) * 0.1)
		if maxJitter > 0 {
			jitterBig, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
			if err == nil {
				delay += time.Duration(jitterBig.Int64())
			}
		}
	}

	return delay
}

func (rs *RetryScheduler) send(ctx context.Context, p Provider, msg *Message, timeout time.Duration) (*SendResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := rs.clock.Now()
	result, err := p.Send(ctx, msg)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.Int64("dispatch.provider.duration_ms", rs.clock.Now().Sub(start).Milliseconds()),
		)
	}
	return result, err
}

// wait blocks until the throttle grants a token.
func (rs *RetryScheduler) wait(ctx context.Context, throttle *rate.Limiter) error {
	if throttle == nil {
		return nil
	}

	now := rs.clock.Now()
	r := throttle.ReserveN(now, 1)
	if !r.OK() {
		return nil
	}
	if d := r.DelayFrom(now); d > 0 {
		if err := rs.clock.Sleep(ctx, d); err != nil {
			r.CancelAt(rs.clock.Now())
			return err
		}
	}
	return nil
}
