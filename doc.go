// Package dispatch provides a resilient, provider-agnostic email dispatch
// orchestrator for transactional messages.
//
// Each message carries a caller-chosen key. The orchestrator delivers a key at
// most once to completion: repeated dispatches of a key return the recorded
// outcome without contacting any provider, and concurrent dispatches of the
// same key share a single delivery chain.
//
// # Basic Usage
//
//	orch, err := dispatch.New(dispatch.DefaultConfig(),
//		dispatch.WithAWSSES("us-east-1", "noreply@example.com"),
//		dispatch.WithSendGrid(os.Getenv("SENDGRID_API_KEY"), "noreply@example.com"),
//		dispatch.WithRetry(3, 100*time.Millisecond),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer orch.Close()
//
//	outcome, err := orch.Dispatch(ctx, &dispatch.Message{
//		Key:       "welcome-42",
//		Recipient: "user@example.com",
//		Subject:   "Welcome",
//		Body:      "Welcome!",
//	})
//
// # Delivery Pipeline
//
// A dispatch passes through, in order:
//
//   - the idempotency guard, which answers keys that already have an outcome
//   - the per-recipient rate limiter (fixed window, 5 per minute by default)
//   - the provider chain, which tries providers in configuration order
//
// Within the chain each provider gets its own retry budget with exponential
// backoff, and a per-provider circuit breaker skips providers that keep
// failing. The outcome (sent, rate_limited or failed) is recorded once and
// never changes.
//
// # Supported Providers
//
//   - AWS SES
//   - SendGrid
//   - Mailgun
//   - Generic SMTP
//   - In-process mock
//
// Outcomes can also be published to NATS or Kafka. Spans and metrics are
// emitted through the global OpenTelemetry providers, and logs through zerolog.
package dispatch
