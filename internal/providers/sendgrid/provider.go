package sendgrid

import (
	"context"
	"strconv"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/lattiq/dispatch/internal/core"
)

// sendAPI is the subset of the SendGrid client used by the provider.
type sendAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Provider implements the core.Provider interface for SendGrid.
type Provider struct {
	client sendAPI
	config core.ProviderSettings
}

// NewProvider creates a new SendGrid provider.
func NewProvider(settings core.ProviderSettings) (core.Provider, error) {
	apiKey := settings.Get("api_key")
	if apiKey == "" {
		return nil, core.NewValidationError("api_key", "SendGrid API key is required")
	}

	return &Provider{
		client: sendgrid.NewSendClient(apiKey),
		config: settings,
	}, nil
}

// Send sends a single message using SendGrid.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	fromAddr := msg.Sender(p.config.Get("from"))
	if fromAddr == "" {
		return nil, core.NewProviderError(p.Name(), "missing_sender", "no sender address configured")
	}

	from := mail.NewEmail(p.config.Get("from_name"), fromAddr)
	to := mail.NewEmail("", msg.Recipient)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.HTMLBody)

	if len(msg.Headers) > 0 {
		if message.Headers == nil {
			message.Headers = make(map[string]string)
		}
		for key, value := range msg.Headers {
			message.Headers[key] = value
		}
	}
	message.SetCustomArg("dispatch_key", msg.Key)

	response, err := p.client.SendWithContext(ctx, message)
	if err != nil {
		return nil, core.WrapProviderError(p.Name(), "send_error", err)
	}

	if response.StatusCode >= 400 {
		return nil, &core.ProviderError{
			Provider:   p.Name(),
			Code:       "api_error",
			Message:    "SendGrid API error: " + response.Body,
			StatusCode: response.StatusCode,
		}
	}

	// SendGrid returns the message id in the X-Message-Id header.
	messageID := "unknown"
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}

	return &core.SendResult{
		MessageID: messageID,
		Provider:  p.Name(),
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"status_code": strconv.Itoa(response.StatusCode),
		},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "sendgrid"
}
