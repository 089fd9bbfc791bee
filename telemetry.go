package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/lattiq/dispatch"

// newLogger builds the component logger from cfg. The returned closer is
// non-nil when logs go to a file.
func newLogger(cfg LoggingConfig) (zerolog.Logger, io.Closer, error) {
	if cfg.Logger != nil {
		return *cfg.Logger, nil, nil
	}

	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = zerolog.InfoLevel.String()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("parse log level: %w", err)
	}

	var (
		out    io.Writer
		closer io.Closer
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log output: %w", err)
		}
		out, closer = f, f
	}

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return logger, closer, nil
}

func newTracer(cfg TracingConfig) trace.Tracer {
	if !cfg.Enabled {
		return trace.NewNoopTracerProvider().Tracer(instrumentationName)
	}
	return otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(Version))
}

// instruments holds the metric instruments shared by all components.
type instruments struct {
	outcomes    metric.Int64Counter
	attempts    metric.Int64Counter
	transitions metric.Int64Counter
	retryDelay  metric.Float64Histogram
}

func newInstruments(cfg MetricsConfig) (*instruments, error) {
	var meter metric.Meter
	if cfg.Enabled {
		meter = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(Version))
	} else {
		meter = noop.NewMeterProvider().Meter(instrumentationName)
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = "dispatch"
	}

	var (
		inst instruments
		err  error
	)
	if inst.outcomes, err = meter.Int64Counter(ns+".dispatch.outcomes",
		metric.WithDescription("Terminal outcomes recorded per message key")); err != nil {
		return nil, fmt.Errorf("create outcomes counter: %w", err)
	}
	if inst.attempts, err = meter.Int64Counter(ns+".provider.attempts",
		metric.WithDescription("Delivery attempts per provider and result")); err != nil {
		return nil, fmt.Errorf("create attempts counter: %w", err)
	}
	if inst.transitions, err = meter.Int64Counter(ns+".circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions")); err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}
	if inst.retryDelay, err = meter.Float64Histogram(ns+".retry.delay_ms",
		metric.WithDescription("Backoff delay before a retry"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create retry delay histogram: %w", err)
	}

	return &inst, nil
}

func (i *instruments) recordOutcome(ctx context.Context, outcome Outcome) {
	i.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
}

func (i *instruments) recordAttempt(ctx context.Context, provider string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	i.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", result),
	))
}

func (i *instruments) recordTransition(provider string, from, to CircuitState) {
	i.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (i *instruments) recordDelay(ctx context.Context, provider string, d time.Duration) {
	i.retryDelay.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("provider", provider)))
}
