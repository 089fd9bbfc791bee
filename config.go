package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lattiq/dispatch/internal/providers"
)

// Config holds the complete orchestrator configuration.
type Config struct {
	// Providers is the ordered fallback chain. The first provider is tried
	// first; the order never changes at runtime.
	Providers []ProviderConfig

	// Retry is the default retry policy applied to each provider.
	Retry RetryConfig

	// RateLimit contains per-recipient rate limiting configuration.
	RateLimit RateLimitConfig

	// CircuitBreaker contains per-provider circuit breaker configuration.
	CircuitBreaker CircuitBreakerConfig

	// Idempotency controls how duplicate dispatches are reported.
	Idempotency IdempotencyConfig

	// Batch controls DispatchBatch.
	Batch BatchConfig

	// Events configures the optional outcome event sink.
	Events EventsConfig

	// Monitoring contains observability configuration.
	Monitoring MonitoringConfig

	// Clock supplies time and backoff delays. Defaults to SystemClock.
	Clock Clock
}

// ProviderConfig describes one link of the provider chain.
type ProviderConfig struct {
	// Type selects a built-in provider. Ignored when Instance is set.
	Type ProviderType

	// Settings are passed to the built-in provider factory.
	Settings ProviderSettings

	// Instance is a caller-supplied provider.
	Instance Provider

	// Name overrides the provider's own name. Names must be unique.
	Name string

	// Timeout bounds a single delivery attempt. Zero means no per-attempt deadline.
	Timeout time.Duration

	// Retry overrides the default retry policy for this provider.
	Retry *RetryConfig

	// Throttle caps the attempt rate against this provider.
	Throttle ThrottleConfig
}

// ProviderType represents the type of a built-in provider.
type ProviderType string

const (
	// ProviderAWSSES represents Amazon Simple Email Service.
	ProviderAWSSES ProviderType = "aws_ses"

	// ProviderSendGrid represents the SendGrid email service.
	ProviderSendGrid ProviderType = "sendgrid"

	// ProviderMailgun represents the Mailgun email service.
	ProviderMailgun ProviderType = "mailgun"

	// ProviderSMTP represents a generic SMTP server.
	ProviderSMTP ProviderType = "smtp"

	// ProviderMock represents the in-process mock provider.
	ProviderMock ProviderType = "mock"
)

// String returns the string representation of the provider type.
func (pt ProviderType) String() string {
	return string(pt)
}

// Valid checks if the provider type is supported.
func (pt ProviderType) Valid() bool {
	return providers.Supported(string(pt))
}

// RetryConfig contains retry policy configuration.
type RetryConfig struct {
	// MaxAttempts is the number of attempts per provider (including the first).
	MaxAttempts int

	// BackoffBase is the delay after the first failed attempt.
	// Attempt i (0-based) is followed by BackoffBase * Multiplier^i.
	BackoffBase time.Duration

	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor.
	Multiplier float64

	// Jitter adds up to 10% random delay.
	Jitter bool
}

// ThrottleConfig limits attempts against a single provider.
type ThrottleConfig struct {
	// RatePerSecond is the sustained attempt rate. Zero disables the throttle.
	RatePerSecond float64

	// Burst is the number of attempts allowed at once (default 1).
	Burst int
}

// RateLimitConfig contains per-recipient rate limiting configuration.
type RateLimitConfig struct {
	// Enabled indicates whether rate limiting is enabled.
	Enabled bool

	// Max is the number of accepted dispatches per recipient per window.
	Max int

	// Window is the length of the fixed counting window.
	Window time.Duration

	// CleanupInterval is how often expired windows are swept. Zero disables sweeping.
	CleanupInterval time.Duration
}

// CircuitBreakerConfig contains circuit breaker configuration.
type CircuitBreakerConfig struct {
	// Enabled indicates whether the circuit breaker is enabled.
	Enabled bool

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// Cooldown is how long an open circuit waits before allowing a trial attempt.
	Cooldown time.Duration
}

// IdempotencyConfig controls duplicate reporting.
type IdempotencyConfig struct {
	// ReportDuplicates makes duplicate dispatches of a sent key return
	// OutcomeAlreadySent instead of OutcomeSent.
	ReportDuplicates bool
}

// BatchConfig controls DispatchBatch.
type BatchConfig struct {
	// Concurrency is the maximum number of messages dispatched at once.
	Concurrency int
}

// EventSinkType selects the broker for outcome events.
type EventSinkType string

const (
	// EventSinkNone disables outcome events.
	EventSinkNone EventSinkType = ""

	// EventSinkNATS publishes outcome events to a NATS subject.
	EventSinkNATS EventSinkType = "nats"

	// EventSinkKafka writes outcome events to a Kafka topic.
	EventSinkKafka EventSinkType = "kafka"
)

// EventsConfig configures the outcome event sink.
type EventsConfig struct {
	// Type selects the sink.
	Type EventSinkType

	// URL is the NATS server URL.
	URL string

	// Brokers are the Kafka broker addresses.
	Brokers []string

	// Topic is the NATS subject or Kafka topic.
	Topic string

	// Timeout bounds a single publish.
	Timeout time.Duration
}

// MonitoringConfig contains observability configuration.
type MonitoringConfig struct {
	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig

	// Logging contains logging configuration.
	Logging LoggingConfig
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled indicates whether spans are recorded through the global tracer provider.
	Enabled bool

	// ServiceName is the instrumentation name.
	ServiceName string
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled indicates whether instruments are registered with the global meter provider.
	Enabled bool

	// Namespace is the metrics namespace/prefix.
	Namespace string
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error, disabled).
	Level string

	// Format is the log format (json, console).
	Format string

	// Output is where to write logs (stdout, stderr, or file path).
	Output string

	// Logger, when set, is used as is and the fields above are ignored.
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
// Providers must still be added.
func DefaultConfig() Config {
	return Config{
		Retry: DefaultRetryConfig(),
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Max:             5,
			Window:          time.Minute,
			CleanupInterval: time.Minute,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		Batch: BatchConfig{
			Concurrency: 8,
		},
		Events: EventsConfig{
			Timeout: 5 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Tracing: TracingConfig{
				Enabled:     true,
				ServiceName: "dispatch",
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "dispatch",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
		},
	}
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// Validate checks if the configuration is valid and complete.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return ErrNoProviders
	}

	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Instance == nil && !p.Type.Valid() {
			return &ValidationError{
				Field:   field + ".type",
				Message: "invalid or unsupported provider type: " + string(p.Type),
			}
		}
		if p.Timeout < 0 {
			return &ValidationError{Field: field + ".timeout", Message: "timeout cannot be negative"}
		}
		if p.Retry != nil {
			if err := p.Retry.validate(field + ".retry"); err != nil {
				return err
			}
		}
		if p.Throttle.RatePerSecond < 0 || p.Throttle.Burst < 0 {
			return &ValidationError{Field: field + ".throttle", Message: "rate and burst cannot be negative"}
		}
	}

	if err := c.Retry.validate("retry"); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Max <= 0 {
			return &ValidationError{Field: "rate_limit.max", Message: "max must be greater than 0"}
		}
		if c.RateLimit.Window <= 0 {
			return &ValidationError{Field: "rate_limit.window", Message: "window must be greater than 0"}
		}
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold < 1 {
			return &ValidationError{Field: "circuit_breaker.failure_threshold", Message: "failure threshold must be at least 1"}
		}
		if c.CircuitBreaker.Cooldown <= 0 {
			return &ValidationError{Field: "circuit_breaker.cooldown", Message: "cooldown must be greater than 0"}
		}
	}

	if c.Batch.Concurrency < 1 {
		return &ValidationError{Field: "batch.concurrency", Message: "concurrency must be at least 1"}
	}

	switch c.Events.Type {
	case EventSinkNone:
	case EventSinkNATS:
		if c.Events.URL == "" {
			return &ValidationError{Field: "events.url", Message: "NATS URL is required"}
		}
	case EventSinkKafka:
		if len(c.Events.Brokers) == 0 {
			return &ValidationError{Field: "events.brokers", Message: "at least one Kafka broker is required"}
		}
	default:
		return &ValidationError{Field: "events.type", Message: "unsupported event sink: " + string(c.Events.Type)}
	}
	if c.Events.Type != EventSinkNone && c.Events.Topic == "" {
		return &ValidationError{Field: "events.topic", Message: "topic is required"}
	}

	if c.Monitoring.Logging.Logger == nil {
		if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.Monitoring.Logging.Level))); err != nil {
			return &ValidationError{Field: "monitoring.logging.level", Message: err.Error()}
		}
	}

	return nil
}

func (r RetryConfig) validate(field string) error {
	if r.MaxAttempts < 1 {
		return &ValidationError{Field: field + ".max_attempts", Message: "max attempts must be at least 1"}
	}
	if r.BackoffBase < 0 {
		return &ValidationError{Field: field + ".backoff_base", Message: "backoff base cannot be negative"}
	}
	if r.MaxDelay < 0 {
		return &ValidationError{Field: field + ".max_delay", Message: "max delay cannot be negative"}
	}
	if r.Multiplier < 1.0 {
		return &ValidationError{Field: field + ".multiplier", Message: "multiplier must be at least 1.0"}
	}
	return nil
}
