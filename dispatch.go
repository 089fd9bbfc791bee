package dispatch

import (
	"context"

	"github.com/lattiq/dispatch/internal/core"
)

// Public interfaces for the dispatch library
type (
	// Dispatcher defines the core dispatch interface.
	// All methods are safe for concurrent use.
	Dispatcher interface {
		// Dispatch delivers a single message at most once per key and returns
		// its terminal outcome. Provider failures are reported as
		// OutcomeFailed, never as an error.
		Dispatch(ctx context.Context, msg *Message) (Outcome, error)

		// DispatchBatch dispatches messages concurrently. Outcomes are returned
		// in input order. Messages that could not be dispatched are reported in
		// a BatchError and have OutcomeUnknown.
		DispatchBatch(ctx context.Context, msgs []*Message) ([]Outcome, error)

		// Status returns the recorded outcome for key, or OutcomeUnknown.
		Status(key string) Outcome

		// Close stops background work and releases resources.
		// After calling Close, Dispatch returns ErrClosed.
		Close() error
	}
)

// Type aliases to re-export core types for the public API.
type (
	Provider         = core.Provider
	ProviderSettings = core.ProviderSettings
	Message          = core.Message
	SendResult       = core.SendResult
	ValidationError  = core.ValidationError
	ProviderError    = core.ProviderError
)

// Error constructor functions
var (
	NewValidationError          = core.NewValidationError
	NewValidationErrorWithValue = core.NewValidationErrorWithValue
	NewProviderError            = core.NewProviderError
	WrapProviderError           = core.WrapProviderError
)

var _ Dispatcher = (*Orchestrator)(nil)
