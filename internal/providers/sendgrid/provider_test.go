package sendgrid

import (
	"context"
	"errors"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/lattiq/dispatch/internal/core"
)

type fakeClient struct {
	sent *mail.SGMailV3
	resp *rest.Response
	err  error
}

func (f *fakeClient) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = email
	return f.resp, f.err
}

func TestSendSuccess(t *testing.T) {
	fake := &fakeClient{resp: &rest.Response{
		StatusCode: 202,
		Headers:    map[string][]string{"X-Message-Id": {"sg-1"}},
	}}
	p := &Provider{client: fake, config: core.ProviderSettings{"from": "noreply@example.com"}}

	res, err := p.Send(context.Background(), &core.Message{Key: "k1", Recipient: "user@example.com", Subject: "s", Body: "b"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "sg-1" {
		t.Fatalf("unexpected message id %q", res.MessageID)
	}
	if fake.sent.CustomArgs["dispatch_key"] != "k1" {
		t.Fatalf("dispatch key not attached: %v", fake.sent.CustomArgs)
	}
}

func TestSendAPIErrorCarriesStatus(t *testing.T) {
	fake := &fakeClient{resp: &rest.Response{StatusCode: 503, Body: "unavailable"}}
	p := &Provider{client: fake, config: core.ProviderSettings{"from": "noreply@example.com"}}

	_, err := p.Send(context.Background(), &core.Message{Key: "k1", Recipient: "user@example.com"})
	var perr *core.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if perr.StatusCode != 503 {
		t.Fatalf("unexpected status %d", perr.StatusCode)
	}
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewProvider(core.ProviderSettings{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
