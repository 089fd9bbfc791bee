package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"

	"github.com/lattiq/dispatch/internal/core"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSendMapsMessage(t *testing.T) {
	fake := &fakeSES{}
	p := &Provider{client: fake, config: core.ProviderSettings{"from": "noreply@example.com"}}

	res, err := p.Send(context.Background(), &core.Message{
		Key:       "welcome/42",
		Recipient: "user@example.com",
		Subject:   "Welcome",
		Body:      "hi",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "ses-123" || res.Provider != "aws_ses" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := aws.ToString(fake.input.Source); got != "noreply@example.com" {
		t.Fatalf("unexpected source %q", got)
	}
	if got := fake.input.Destination.ToAddresses; len(got) != 1 || got[0] != "user@example.com" {
		t.Fatalf("unexpected destination %v", got)
	}
	if got := aws.ToString(fake.input.Tags[0].Value); got != "welcome_42" {
		t.Fatalf("unexpected tag value %q", got)
	}
}

func TestSendWrapsClientError(t *testing.T) {
	p := &Provider{client: &fakeSES{err: errors.New("throttled")}, config: core.ProviderSettings{"from": "a@example.com"}}

	_, err := p.Send(context.Background(), &core.Message{Key: "k", Recipient: "user@example.com"})
	var perr *core.ProviderError
	if !errors.As(err, &perr) || perr.Provider != "aws_ses" {
		t.Fatalf("expected aws_ses provider error, got %v", err)
	}
}

func TestNewProviderRequiresRegion(t *testing.T) {
	if _, err := NewProvider(core.ProviderSettings{}); err == nil {
		t.Fatal("expected error without region")
	}
}
