package smtp

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/lattiq/dispatch/internal/core"
)

// sendMailFunc matches net/smtp.SendMail so tests can capture the envelope.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Provider implements the core.Provider interface for SMTP.
type Provider struct {
	config   core.ProviderSettings
	sendMail sendMailFunc
	now      func() time.Time
}

// NewProvider creates a new SMTP provider.
func NewProvider(settings core.ProviderSettings) (core.Provider, error) {
	return newProvider(settings, smtp.SendMail)
}

func newProvider(settings core.ProviderSettings, send sendMailFunc) (*Provider, error) {
	host := settings.Get("host")
	if host == "" {
		return nil, core.NewValidationError("host", "SMTP host is required")
	}

	port := settings.Get("port")
	if port == "" {
		return nil, core.NewValidationError("port", "SMTP port is required")
	}

	if _, err := strconv.Atoi(port); err != nil {
		return nil, core.NewValidationError("port", "invalid port number: "+port)
	}

	if from := settings.Get("from"); from != "" && !core.ValidAddress(from) {
		return nil, core.NewValidationErrorWithValue("from", "invalid sender address", from)
	}

	return &Provider{
		config:   settings,
		sendMail: send,
		now:      time.Now,
	}, nil
}

// Send delivers the message through the configured SMTP relay.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	host := p.config.Get("host")
	addr := net.JoinHostPort(host, p.config.Get("port"))
	from := msg.Sender(p.config.Get("from"))
	if from == "" {
		return nil, core.NewProviderError(p.Name(), "missing_sender", "no sender address configured")
	}

	var auth smtp.Auth
	if username, password := p.config.Get("username"), p.config.Get("password"); username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	messageID := fmt.Sprintf("<%d.%s@%s>", p.now().UnixNano(), sanitizeKey(msg.Key), host)
	body := p.buildMessage(msg, from, messageID)

	// net/smtp has no context support; run the exchange so a cancelled
	// attempt returns promptly.
	done := make(chan error, 1)
	go func() {
		done <- p.sendMail(addr, auth, from, []string{msg.Recipient}, body)
	}()

	select {
	case <-ctx.Done():
		return nil, core.WrapProviderError(p.Name(), "timeout", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, core.WrapProviderError(p.Name(), "send_error", err)
		}
	}

	return &core.SendResult{
		MessageID: messageID,
		Provider:  p.Name(),
		Timestamp: p.now(),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// buildMessage builds the message in RFC 5322 format.
func (p *Provider) buildMessage(msg *core.Message, from, messageID string) []byte {
	var b strings.Builder

	b.WriteString("From: " + core.FormatAddress(p.config.Get("from_name"), from) + "\r\n")
	b.WriteString("To: " + msg.Recipient + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("Date: " + p.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: " + messageID + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	for key, value := range msg.Headers {
		b.WriteString(key + ": " + value + "\r\n")
	}

	switch {
	case msg.HTMLBody != "" && msg.Body != "":
		boundary := fmt.Sprintf("boundary_%d", p.now().UnixNano())
		b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")

		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Body + "\r\n\r\n")

		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTMLBody + "\r\n\r\n")

		b.WriteString("--" + boundary + "--\r\n")
	case msg.HTMLBody != "":
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTMLBody + "\r\n")
	default:
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Body + "\r\n")
	}

	return []byte(b.String())
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || r == '@' || r == ' ' {
			return '-'
		}
		return r
	}, key)
}
