package dispatch

import (
	"sync"
	"time"
)

// Outcome is the terminal classification of a dispatch for a message key.
type Outcome string

const (
	// OutcomeUnknown is reported for keys that have no recorded outcome.
	OutcomeUnknown Outcome = "unknown"

	// OutcomeSent indicates a provider accepted the message.
	OutcomeSent Outcome = "sent"

	// OutcomeAlreadySent is reported for duplicate dispatches of a sent key
	// when Idempotency.ReportDuplicates is enabled.
	OutcomeAlreadySent Outcome = "already_sent"

	// OutcomeRateLimited indicates the recipient's rate ceiling rejected the message.
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeFailed indicates every provider in the chain failed or was skipped.
	OutcomeFailed Outcome = "failed"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// Terminal reports whether the outcome is final for its key.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSent, OutcomeAlreadySent, OutcomeRateLimited, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Receipt is the record retained for a dispatched key.
// The message itself is not retained.
type Receipt struct {
	Key       string
	Recipient string
	Outcome   Outcome

	// Provider is the provider that accepted the message (sent only).
	Provider string

	// MessageID is the provider-assigned identifier (sent only).
	MessageID string

	// Attempts is the total number of provider attempts across the chain.
	Attempts int

	// Error describes why the message was not sent.
	Error string

	RecordedAt time.Time
}

// StatusStore maps message keys to their terminal receipts.
// The first recorded receipt for a key wins; later writes are ignored.
type StatusStore struct {
	mu       sync.RWMutex
	receipts map[string]Receipt
}

// NewStatusStore creates an empty store.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		receipts: make(map[string]Receipt),
	}
}

// Get returns the outcome recorded for key, or OutcomeUnknown.
func (s *StatusStore) Get(key string) Outcome {
	if r, ok := s.Lookup(key); ok {
		return r.Outcome
	}
	return OutcomeUnknown
}

// Lookup returns the receipt recorded for key.
func (s *StatusStore) Lookup(key string) (Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[key]
	return r, ok
}

// Record stores r unless a receipt already exists for r.Key.
// It returns the receipt now held for the key and whether r was written.
func (s *StatusStore) Record(r Receipt) (Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.receipts[r.Key]; ok {
		return existing, false
	}
	s.receipts[r.Key] = r
	return r, true
}

// Len returns the number of recorded keys.
func (s *StatusStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

// Counts returns the number of keys per outcome.
func (s *StatusStore) Counts() map[Outcome]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Outcome]int)
	for _, r := range s.receipts {
		counts[r.Outcome]++
	}
	return counts
}
