package ports

import (
	"context"

	"github.com/kevin07696/processing-service/internal/domain"
)

// Delivery is one inbound message. Ack tells the broker the message is
// fully handled; an unacknowledged delivery is redelivered.
type Delivery interface {
	Body() []byte
	Ack(ctx context.Context) error
}

// MessageConsumer yields inbound transaction messages
type MessageConsumer interface {
	// Fetch blocks until a message is available or ctx is done
	Fetch(ctx context.Context) (Delivery, error)
	Close() error
}

// MessageProducer writes raw transaction snapshots to the inbound queue
type MessageProducer interface {
	Produce(ctx context.Context, key string, body []byte) error
}

// ResultPublisher emits the outcome of a processing attempt
type ResultPublisher interface {
	PublishResult(ctx context.Context, result domain.Result) error
}

// StatusNotifier emits customer-facing status changes
type StatusNotifier interface {
	Notify(ctx context.Context, n domain.StatusNotification) error
}
