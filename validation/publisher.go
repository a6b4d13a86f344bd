package validation

import (
	"context"

	"github.com/nairamint/nexus-core/envelope"
	"github.com/nairamint/nexus-core/errors"
	"github.com/nairamint/nexus-core/natsclient"
)

// EventPublisher delivers validation events to interested clients. The
// orchestrator publishes best-effort: a publish failure is logged, never
// surfaced to the validation caller.
type EventPublisher interface {
	PublishEvent(ctx context.Context, env envelope.Envelope) error
}

// PublisherFunc adapts a function to the EventPublisher interface
type PublisherFunc func(ctx context.Context, env envelope.Envelope) error

// PublishEvent calls f
func (f PublisherFunc) PublishEvent(ctx context.Context, env envelope.Envelope) error {
	return f(ctx, env)
}

// NATSPublisher publishes envelopes on a NATS subject so relay instances on
// other nodes can fan them out to their WebSocket clients.
type NATSPublisher struct {
	client  *natsclient.Client
	subject string
}

// NewNATSPublisher creates a publisher targeting the given subject
func NewNATSPublisher(client *natsclient.Client, subject string) (*NATSPublisher, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSPublisher", "NewNATSPublisher", "NATS client required")
	}
	if subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSPublisher", "NewNATSPublisher", "subject required")
	}
	return &NATSPublisher{client: client, subject: subject}, nil
}

// PublishEvent encodes the envelope and publishes it on the subject
func (p *NATSPublisher) PublishEvent(ctx context.Context, env envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.subject, data)
}
