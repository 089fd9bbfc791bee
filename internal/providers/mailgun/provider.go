package mailgun

import (
	"context"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/lattiq/dispatch/internal/core"
)

// Provider implements the core.Provider interface for Mailgun.
type Provider struct {
	client mailgun.Mailgun
	config core.ProviderSettings
}

// NewProvider creates a new Mailgun provider.
func NewProvider(settings core.ProviderSettings) (core.Provider, error) {
	apiKey := settings.Get("api_key")
	if apiKey == "" {
		return nil, core.NewValidationError("api_key", "Mailgun API key is required")
	}

	domain := settings.Get("domain")
	if domain == "" {
		return nil, core.NewValidationError("domain", "Mailgun domain is required")
	}

	client := mailgun.NewMailgun(domain, apiKey)

	// Set base URL if provided (for EU customers)
	if baseURL := settings.Get("base_url"); baseURL != "" {
		client.SetAPIBase(baseURL)
	}

	return &Provider{
		client: client,
		config: settings,
	}, nil
}

// Send sends a single message using Mailgun.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	from := msg.Sender(p.config.Get("from"))
	if from == "" {
		from = "postmaster@" + p.config.Get("domain")
	}

	message := mailgun.NewMessage(from, msg.Subject, msg.Body, msg.Recipient)

	if msg.HTMLBody != "" {
		message.SetHTML(msg.HTMLBody)
	}

	for key, value := range msg.Headers {
		message.AddHeader(key, value)
	}

	// Lets webhook events be matched back to the dispatch key.
	if err := message.AddVariable("dispatch_key", msg.Key); err != nil {
		return nil, core.WrapProviderError(p.Name(), "variable_error", err)
	}

	// Mailgun v4 returns the queue message and the message id.
	mes, id, err := p.client.Send(ctx, message)
	if err != nil {
		return nil, core.WrapProviderError(p.Name(), "send_failed", err)
	}

	return &core.SendResult{
		MessageID: id,
		Provider:  p.Name(),
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"message": mes,
		},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "mailgun"
}
