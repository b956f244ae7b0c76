package broker

import (
	"context"

	"mailflow/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.Envelope) error
	Close() error
}

// Consumer delivers envelopes to the handler. An envelope is acknowledged
// once the handler returns, unless the consume context was cancelled
// while it ran.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.Envelope) error
