package dispatch

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Delivery is the result of walking the provider chain for one message.
type Delivery struct {
	// Result is set when a provider accepted the message.
	Result *SendResult

	// Provider names the provider that accepted the message.
	Provider string

	// Attempts is the total number of provider calls across the chain.
	Attempts int

	// Reports holds one entry per provider reached, in chain order.
	Reports []AttemptReport
}

// Sent reports whether a provider accepted the message.
func (d Delivery) Sent() bool {
	return d.Result != nil
}

// Err returns the error of the last provider reached, or nil after a success.
func (d Delivery) Err() error {
	if d.Sent() || len(d.Reports) == 0 {
		return nil
	}
	return d.Reports[len(d.Reports)-1].Err
}

type chainLink struct {
	provider Provider
	policy   AttemptPolicy
}

// ProviderChain tries providers in a fixed order until one accepts the message.
type ProviderChain struct {
	links  []chainLink
	retry  *RetryScheduler
	logger zerolog.Logger
	tracer trace.Tracer
}

func newProviderChain(links []chainLink, retry *RetryScheduler, logger zerolog.Logger, tracer trace.Tracer) *ProviderChain {
	return &ProviderChain{
		links:  links,
		retry:  retry,
		logger: logger.With().Str("component", "provider_chain").Logger(),
		tracer: tracer,
	}
}

// Deliver walks the chain in order. Each provider gets its own retry budget;
// providers with an open circuit are skipped without delay. The error is
// non-nil only when ctx ends before the chain is exhausted.
func (c *ProviderChain) Deliver(ctx context.Context, msg *Message) (Delivery, error) {
	ctx, span := c.tracer.Start(ctx, "dispatch.ProviderChain.Deliver",
		trace.WithAttributes(
			attribute.String("dispatch.key", msg.Key),
			attribute.Int("dispatch.chain.length", len(c.links)),
		),
	)
	defer span.End()

	var d Delivery
	for i, link := range c.links {
		report, err := c.retry.Attempt(ctx, link.provider, msg, link.policy)
		d.Reports = append(d.Reports, report)
		d.Attempts += report.Attempts

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery abandoned")
			return d, err
		}

		if report.Result != nil {
			d.Result = report.Result
			d.Provider = report.Provider
			span.SetAttributes(
				attribute.String("dispatch.provider", d.Provider),
				attribute.String("dispatch.message_id", d.Result.MessageID),
			)
			span.SetStatus(codes.Ok, "delivered")
			return d, nil
		}

		if i < len(c.links)-1 {
			c.logger.Info().
				Str("key", msg.Key).
				Str("provider", report.Provider).
				Str("next", c.links[i+1].provider.Name()).
				Bool("skipped", report.Skipped).
				Msg("falling back to next provider")
		}
	}

	span.SetStatus(codes.Error, "all providers failed")
	return d, nil
}

// Providers returns the provider names in chain order.
func (c *ProviderChain) Providers() []string {
	names := make([]string, len(c.links))
	for i, link := range c.links {
		names[i] = link.provider.Name()
	}
	return names
}

// namedProvider overrides the name a provider reports.
type namedProvider struct {
	Provider
	name string
}

func (p namedProvider) Name() string {
	return p.name
}
