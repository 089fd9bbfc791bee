package ses

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/lattiq/dispatch/internal/core"
)

// sendEmailAPI is the subset of the SES client used by the provider.
type sendEmailAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Provider implements the core.Provider interface for AWS SES.
type Provider struct {
	client sendEmailAPI
	config core.ProviderSettings
}

// NewProvider creates a new AWS SES provider.
func NewProvider(settings core.ProviderSettings) (core.Provider, error) {
	region := settings.Get("region")
	if region == "" {
		return nil, core.NewValidationError("region", "AWS region is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, core.WrapProviderError("aws_ses", "config_error", err)
	}

	// Override with explicit credentials if provided
	if accessKey := settings.Get("access_key"); accessKey != "" {
		secretKey := settings.Get("secret_key")
		if secretKey == "" {
			return nil, core.NewValidationError("secret_key", "secret key is required when access key is provided")
		}

		cfg.Credentials = aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     accessKey,
				SecretAccessKey: secretKey,
				SessionToken:    settings.Get("session_token"),
			}, nil
		})
	}

	return &Provider{
		client: ses.NewFromConfig(cfg),
		config: settings,
	}, nil
}

// Send sends a single message using AWS SES.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	from := msg.Sender(p.config.Get("from"))
	if from == "" {
		return nil, core.NewProviderError(p.Name(), "missing_sender", "no sender address configured")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(msg.Subject),
			},
			Body: &types.Body{},
		},
	}

	if msg.Body != "" {
		input.Message.Body.Text = &types.Content{Data: aws.String(msg.Body)}
	}
	if msg.HTMLBody != "" {
		input.Message.Body.Html = &types.Content{Data: aws.String(msg.HTMLBody)}
	}

	if configSet := p.config.Get("configuration_set"); configSet != "" {
		input.ConfigurationSetName = aws.String(configSet)
	}

	// Tag the send with the idempotency key so bounces can be correlated.
	input.Tags = []types.MessageTag{{
		Name:  aws.String("dispatch_key"),
		Value: aws.String(tagValue(msg.Key)),
	}}

	output, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return nil, core.WrapProviderError(p.Name(), "send_error", err)
	}

	return &core.SendResult{
		MessageID: aws.ToString(output.MessageId),
		Provider:  p.Name(),
		Timestamp: time.Now(),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "aws_ses"
}

// tagValue maps a key onto the SES tag alphabet (ASCII letters, digits,
// underscores and dashes, at most 256 characters).
func tagValue(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key) && len(out) < 256; i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
