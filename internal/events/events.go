// Package events publishes terminal dispatch outcomes to a message broker so
// that other services can follow message status without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is the wire representation of a recorded outcome.
type Event struct {
	Key        string    `json:"key"`
	Recipient  string    `json:"recipient"`
	Outcome    string    `json:"outcome"`
	Provider   string    `json:"provider,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers outcome events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Encode serializes an event as JSON.
func Encode(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
