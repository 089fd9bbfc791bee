package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// natsConn is the subset of *nats.Conn used by the publisher.
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes outcome events on a NATS subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

// NewNATS connects to url and returns a publisher for subject.
func NewNATS(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	if subject == "" {
		return nil, errors.New("events: nats subject is required")
	}

	nc, err := nats.Connect(url, append([]nats.Option{nats.Name("lattiq-dispatch")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSPublisher{conn: nc, subject: subject}, nil
}

// Publish sends the event and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
