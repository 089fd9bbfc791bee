package dispatch

import (
	"errors"
	"fmt"

	"github.com/lattiq/dispatch/internal/core"
)

// Predefined sentinel errors for common cases.
var (
	// ErrNoProviders indicates an orchestrator was configured without providers.
	ErrNoProviders = errors.New("at least one provider is required")

	// ErrDuplicateProvider indicates two providers share a name.
	ErrDuplicateProvider = errors.New("duplicate provider name")

	// ErrRateLimitExceeded is the policy rejection behind OutcomeRateLimited.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitOpen indicates a provider was skipped because its circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrInvalidConfiguration matches any *ValidationError, whether it came
	// from Config.Validate, Message.Validate or a provider constructor.
	ErrInvalidConfiguration = core.ErrInvalidConfiguration

	// ErrClosed indicates the orchestrator has been closed.
	ErrClosed = errors.New("orchestrator closed")
)

// BatchError represents errors that occurred during batch operations.
type BatchError struct {
	// Message is the overall error message.
	Message string

	// Errors contains individual errors for each failed item.
	Errors []BatchItemError

	// Total is the total number of items in the batch.
	Total int

	// Failed is the number of items that failed.
	Failed int
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch error: %s (%d/%d failed)", e.Message, e.Failed, e.Total)
}

// Unwrap exposes the item errors to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, item := range e.Errors {
		errs = append(errs, item.Error)
	}
	return errs
}

// BatchItemError represents an error for a specific item in a batch.
type BatchItemError struct {
	// Index is the position of the item in the batch.
	Index int

	// Key is the message key, when the message had one.
	Key string

	// Error is the error that occurred for this item.
	Error error
}
