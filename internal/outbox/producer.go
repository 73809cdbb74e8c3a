package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lamport/internal/platform/metrics"
)

// Enqueuer is what write-path services depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload any) error
}

// Producer serializes payloads and publishes them on a Broker.
type Producer struct {
	broker  Broker
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

type ProducerOption func(*Producer)

func WithLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) ProducerOption {
	return func(p *Producer) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) ProducerOption {
	return func(p *Producer) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator replaces uuid.NewString for message ids.
func WithIDGenerator(newID func() string) ProducerOption {
	return func(p *Producer) {
		if newID != nil {
			p.newID = newID
		}
	}
}

func NewProducer(broker Broker, opts ...ProducerOption) *Producer {
	p := &Producer{
		broker: broker,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Enqueue JSON-encodes payload and publishes it on topic under a fresh id.
// Every failure wraps ErrEnqueueFailed.
func (p *Producer) Enqueue(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s payload: %w", ErrEnqueueFailed, topic, err)
	}
	msg := Message{
		ID:         p.newID(),
		Topic:      topic,
		Data:       data,
		EnqueuedAt: p.now().UTC(),
	}
	if err := p.broker.Publish(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "outbox publish failed", "topic", topic, "message_id", msg.ID, "error", err)
		return fmt.Errorf("%w: publish to %s: %w", ErrEnqueueFailed, topic, err)
	}
	p.metrics.IncEnqueued(topic)
	p.logger.DebugContext(ctx, "outbox message enqueued", "topic", topic, "message_id", msg.ID)
	return nil
}
