package smtp

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/lattiq/dispatch/internal/core"
)

func TestNewProviderValidatesSettings(t *testing.T) {
	cases := []struct {
		name     string
		settings core.ProviderSettings
		field    string
	}{
		{"missing host", core.ProviderSettings{"port": "25"}, "host"},
		{"missing port", core.ProviderSettings{"host": "localhost"}, "port"},
		{"bad port", core.ProviderSettings{"host": "localhost", "port": "smtp"}, "port"},
		{"bad from", core.ProviderSettings{"host": "localhost", "port": "25", "from": "not an address"}, "from"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProvider(tc.settings)
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestSendBuildsEnvelope(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte

	p, err := newProvider(core.ProviderSettings{
		"host": "mail.example.com",
		"port": "2525",
		"from": "noreply@example.com",
	}, func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	})
	if err != nil {
		t.Fatalf("newProvider: %v", err)
	}
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := p.Send(context.Background(), &core.Message{
		Key:       "order-42",
		Recipient: "user@example.com",
		Subject:   "Receipt",
		Body:      "thanks",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotAddr != "mail.example.com:2525" {
		t.Fatalf("unexpected addr %q", gotAddr)
	}
	if gotFrom != "noreply@example.com" {
		t.Fatalf("unexpected from %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "user@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	if !strings.Contains(string(gotBody), "Subject: Receipt\r\n") {
		t.Fatalf("subject header missing:\n%s", gotBody)
	}
	if !strings.Contains(res.MessageID, "order-42@mail.example.com") {
		t.Fatalf("unexpected message id %q", res.MessageID)
	}
}

func TestSendUsesDisplayName(t *testing.T) {
	var gotFrom string
	var gotBody []byte

	p, err := newProvider(core.ProviderSettings{
		"host":      "mail.example.com",
		"port":      "25",
		"from":      "noreply@example.com",
		"from_name": "Billing Team",
	}, func(_ string, _ smtp.Auth, from string, _ []string, msg []byte) error {
		gotFrom, gotBody = from, msg
		return nil
	})
	if err != nil {
		t.Fatalf("newProvider: %v", err)
	}

	if _, err := p.Send(context.Background(), &core.Message{Key: "k", Recipient: "user@example.com", Body: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotFrom != "noreply@example.com" {
		t.Fatalf("envelope sender must be the bare address, got %q", gotFrom)
	}
	if !strings.Contains(string(gotBody), "From: Billing Team <noreply@example.com>\r\n") {
		t.Fatalf("display name missing from header:\n%s", gotBody)
	}
}

func TestSendWrapsRelayFailure(t *testing.T) {
	p, err := newProvider(core.ProviderSettings{
		"host": "mail.example.com",
		"port": "25",
		"from": "noreply@example.com",
	}, func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 service not available")
	})
	if err != nil {
		t.Fatalf("newProvider: %v", err)
	}

	_, err = p.Send(context.Background(), &core.Message{Key: "k", Recipient: "user@example.com"})
	var perr *core.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if perr.Code != "send_error" {
		t.Fatalf("unexpected code %q", perr.Code)
	}
}

func TestSendRequiresSender(t *testing.T) {
	p, err := newProvider(core.ProviderSettings{"host": "h", "port": "25"}, func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("relay must not be contacted without a sender")
		return nil
	})
	if err != nil {
		t.Fatalf("newProvider: %v", err)
	}

	if _, err := p.Send(context.Background(), &core.Message{Key: "k", Recipient: "user@example.com"}); err == nil {
		t.Fatal("expected error for missing sender")
	}
}
