package core

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"
)

// Provider defines the interface for delivery providers.
// A provider makes one delivery attempt per Send call and reports success
// with a SendResult or failure with an error. Retries, fallback and circuit
// breaking are handled by the caller.
type Provider interface {
	// Send attempts to deliver a single message.
	Send(ctx context.Context, msg *Message) (*SendResult, error)

	// Name returns the provider's name for identification and logging.
	// Names must be unique within one orchestrator.
	Name() string
}

// ProviderSettings represents configuration settings for providers.
type ProviderSettings map[string]string

// Get retrieves a configuration value by key.
func (ps ProviderSettings) Get(key string) string {
	return ps[key]
}

// Message is a single email identified by a caller-chosen idempotency key.
// A message is immutable once submitted.
type Message struct {
	// Key uniquely identifies the message. Dispatching the same key twice
	// never results in a second delivery chain.
	Key string `json:"key"`

	// Recipient is the destination address. It is also the rate limiting identity.
	Recipient string `json:"recipient"`

	// From overrides the provider's configured sender (optional).
	From string `json:"from,omitempty"`

	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	HTMLBody string            `json:"html_body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Validate checks the fields required to route the message.
// Content is not inspected.
func (m *Message) Validate() error {
	if m == nil {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	if strings.TrimSpace(m.Key) == "" {
		return &ValidationError{Field: "key", Message: "message key is required"}
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return &ValidationError{Field: "recipient", Message: "recipient is required"}
	}
	return nil
}

// Sender returns the sender address for the message, falling back to def
// when the message does not carry its own.
func (m *Message) Sender(def string) string {
	if m.From != "" {
		return m.From
	}
	return def
}

// Header returns a header value using a case-insensitive key match.
func (m *Message) Header(key string) (string, bool) {
	for k, v := range m.Headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// FormatAddress formats an address header value with an optional display
// name, Q-encoding names that are not plain ASCII.
func FormatAddress(name, email string) string {
	if name != "" {
		return mime.QEncoding.Encode("UTF-8", name) + " <" + email + ">"
	}
	return email
}

// ValidAddress reports whether addr parses as an RFC 5322 address.
func ValidAddress(addr string) bool {
	if addr == "" {
		return false
	}
	_, err := mail.ParseAddress(addr)
	return err == nil
}

// SendResult contains the result of a successful delivery attempt.
type SendResult struct {
	// MessageID is the identifier assigned by the provider.
	MessageID string

	// Provider is the name of the provider that accepted the message.
	Provider string

	// Timestamp when the message was accepted by the provider.
	Timestamp time.Time

	// Metadata contains provider-specific information.
	Metadata map[string]interface{}
}

// ErrInvalidConfiguration matches every ValidationError under errors.Is.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ValidationError represents a validation error with specific field information.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string

	// Message is the validation error message.
	Message string

	// Value is the invalid value (optional).
	Value interface{}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error in %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Is implements error matching for errors.Is.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidConfiguration {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// ProviderError represents a failed delivery attempt reported by a provider.
// Every provider error is treated the same way by the orchestrator: it is
// retried and then failed over.
type ProviderError struct {
	// Provider is the name of the provider that generated the error.
	Provider string

	// Code is the provider-specific error code.
	Code string

	// Message is the error message from the provider.
	Message string

	// StatusCode is the HTTP status code (for HTTP-based providers).
	StatusCode int

	// Cause is the underlying error that caused this provider error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s error [%s] (status: %d): %s",
			e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s error [%s]: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is.
func (e *ProviderError) Is(target error) bool {
	pe, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return e.Provider == pe.Provider && e.Code == pe.Code
}

// NewProviderError creates a new provider error.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// WrapProviderError creates a provider error that wraps cause.
func WrapProviderError(provider, code string, cause error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  cause.Error(),
		Cause:    cause,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewValidationErrorWithValue creates a new validation error with a value.
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
