package outbox

import "context"

//go:generate mockgen -source=broker.go -destination=mocks/broker_mock.go -package=mocks Broker

// Broker is the queue transport. Delivery is at least once: a consumed
// delivery stays pending until acknowledged and may be handed out again.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	// Consume returns the next batch for topic. An empty batch is not an error.
	Consume(ctx context.Context, topic string) ([]Delivery, error)
	Acknowledge(ctx context.Context, topic, receipt string) error
	Close() error
}
