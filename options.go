package dispatch

import (
	"time"

	"github.com/rs/zerolog"
)

// Option is a functional option for configuring the orchestrator.
type Option func(*Config)

// WithProvider appends a built-in provider to the chain.
func WithProvider(providerType ProviderType, settings ProviderSettings) Option {
	return func(c *Config) {
		c.Providers = append(c.Providers, ProviderConfig{
			Type:     providerType,
			Settings: settings,
		})
	}
}

// WithProviderInstance appends a caller-supplied provider to the chain.
func WithProviderInstance(p Provider) Option {
	return func(c *Config) {
		c.Providers = append(c.Providers, ProviderConfig{Instance: p})
	}
}

// WithProviderConfig appends a fully specified chain link.
func WithProviderConfig(pc ProviderConfig) Option {
	return func(c *Config) {
		c.Providers = append(c.Providers, pc)
	}
}

// WithAttemptTimeout sets the per-attempt timeout on every provider that has none.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		for i := range c.Providers {
			if c.Providers[i].Timeout == 0 {
				c.Providers[i].Timeout = timeout
			}
		}
	}
}

// WithRetry configures the default retry policy.
func WithRetry(maxAttempts int, backoffBase time.Duration) Option {
	return func(c *Config) {
		c.Retry.MaxAttempts = maxAttempts
		c.Retry.BackoffBase = backoffBase
	}
}

// WithMaxDelay caps individual backoff delays.
func WithMaxDelay(maxDelay time.Duration) Option {
	return func(c *Config) {
		c.Retry.MaxDelay = maxDelay
	}
}

// WithJitter enables or disables jitter in retry delays.
func WithJitter(enabled bool) Option {
	return func(c *Config) {
		c.Retry.Jitter = enabled
	}
}

// WithoutRetry limits every provider to a single attempt.
func WithoutRetry() Option {
	return func(c *Config) {
		c.Retry.MaxAttempts = 1
	}
}

// WithRateLimit configures per-recipient rate limiting.
func WithRateLimit(max int, window time.Duration) Option {
	return func(c *Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.Max = max
		c.RateLimit.Window = window
	}
}

// WithoutRateLimit disables rate limiting.
func WithoutRateLimit() Option {
	return func(c *Config) {
		c.RateLimit.Enabled = false
	}
}

// WithCircuitBreaker configures circuit breaker behavior.
func WithCircuitBreaker(failureThreshold int, cooldown time.Duration) Option {
	return func(c *Config) {
		c.CircuitBreaker.Enabled = true
		c.CircuitBreaker.FailureThreshold = failureThreshold
		c.CircuitBreaker.Cooldown = cooldown
	}
}

// WithoutCircuitBreaker disables circuit breaker functionality.
func WithoutCircuitBreaker() Option {
	return func(c *Config) {
		c.CircuitBreaker.Enabled = false
	}
}

// WithDuplicateReporting makes duplicates of sent keys report OutcomeAlreadySent.
func WithDuplicateReporting(enabled bool) Option {
	return func(c *Config) {
		c.Idempotency.ReportDuplicates = enabled
	}
}

// WithBatchConcurrency sets the DispatchBatch concurrency.
func WithBatchConcurrency(n int) Option {
	return func(c *Config) {
		c.Batch.Concurrency = n
	}
}

// WithNATSEvents publishes outcome events to a NATS subject.
func WithNATSEvents(url, subject string) Option {
	return func(c *Config) {
		c.Events.Type = EventSinkNATS
		c.Events.URL = url
		c.Events.Topic = subject
	}
}

// WithKafkaEvents writes outcome events to a Kafka topic.
func WithKafkaEvents(brokers []string, topic string) Option {
	return func(c *Config) {
		c.Events.Type = EventSinkKafka
		c.Events.Brokers = brokers
		c.Events.Topic = topic
	}
}

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the logger used by every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Monitoring.Logging.Logger = &logger
	}
}

// WithLogging configures the built-in logger.
func WithLogging(level, format, output string) Option {
	return func(c *Config) {
		c.Monitoring.Logging.Level = level
		c.Monitoring.Logging.Format = format
		c.Monitoring.Logging.Output = output
	}
}

// WithoutTracing disables span recording.
func WithoutTracing() Option {
	return func(c *Config) {
		c.Monitoring.Tracing.Enabled = false
	}
}

// WithoutMetrics disables metric instruments.
func WithoutMetrics() Option {
	return func(c *Config) {
		c.Monitoring.Metrics.Enabled = false
	}
}

// WithAWSSES appends an AWS SES provider.
func WithAWSSES(region, from string) Option {
	return WithProvider(ProviderAWSSES, ProviderSettings{
		"region": region,
		"from":   from,
	})
}

// WithSendGrid appends a SendGrid provider.
func WithSendGrid(apiKey, from string) Option {
	return WithProvider(ProviderSendGrid, ProviderSettings{
		"api_key": apiKey,
		"from":    from,
	})
}

// WithMailgun appends a Mailgun provider.
func WithMailgun(apiKey, domain, from string) Option {
	return WithProvider(ProviderMailgun, ProviderSettings{
		"api_key": apiKey,
		"domain":  domain,
		"from":    from,
	})
}

// WithMailgunEU appends a Mailgun provider for the EU region.
func WithMailgunEU(apiKey, domain, from string) Option {
	return WithProvider(ProviderMailgun, ProviderSettings{
		"api_key":  apiKey,
		"domain":   domain,
		"from":     from,
		"base_url": "https://api.eu.mailgun.net",
	})
}

// WithSMTP appends an SMTP provider.
func WithSMTP(host, port, from string) Option {
	return WithProvider(ProviderSMTP, ProviderSettings{
		"host": host,
		"port": port,
		"from": from,
	})
}

// WithSMTPAuth appends an SMTP provider with authentication.
func WithSMTPAuth(host, port, username, password, from string) Option {
	return WithProvider(ProviderSMTP, ProviderSettings{
		"host":     host,
		"port":     port,
		"username": username,
		"password": password,
		"from":     from,
	})
}
