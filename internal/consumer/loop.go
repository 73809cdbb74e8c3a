// Package consumer runs the per-topic loops that drain the outbox.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lamport/internal/outbox"
	"lamport/internal/platform/metrics"
)

// DefaultPollBackoff is the fixed wait after a failed poll.
const DefaultPollBackoff = time.Second

// ErrPoison marks a delivery that can never be handled.
var ErrPoison = errors.New("poison message")

// Handler applies one decoded message. A returned error leaves the delivery
// pending so the broker hands it out again.
type Handler[T any] interface {
	Handle(ctx context.Context, msg T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, msg T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// validator is implemented by payloads that can reject well-formed JSON.
type validator interface {
	Validate() error
}

type settings struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	pollBackoff time.Duration
}

type Option func(*settings)

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithPollBackoff overrides DefaultPollBackoff.
func WithPollBackoff(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollBackoff = d
		}
	}
}

// Loop drains one topic: poll, decode, handle, acknowledge.
type Loop[T any] struct {
	topic   string
	broker  outbox.Broker
	handler Handler[T]
	settings
}

func New[T any](broker outbox.Broker, topic string, handler Handler[T], opts ...Option) *Loop[T] {
	s := settings{
		logger:      slog.Default(),
		tracer:      otel.Tracer("lamport/internal/consumer"),
		pollBackoff: DefaultPollBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &Loop[T]{topic: topic, broker: broker, handler: handler, settings: s}
}

func (l *Loop[T]) Topic() string {
	return l.topic
}

// Run polls until ctx is cancelled. Poll failures are retried after a fixed
// backoff; Run itself only returns nil.
func (l *Loop[T]) Run(ctx context.Context) error {
	l.logger.Info("consumer started", "topic", l.topic)
	defer l.logger.Info("consumer stopped", "topic", l.topic)

	for ctx.Err() == nil {
		if err := l.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.metrics.IncPollFailed(l.topic)
			l.logger.Warn("consumer poll failed", "topic", l.topic, "error", err, "backoff", l.pollBackoff)
			if !sleep(ctx, l.pollBackoff) {
				return nil
			}
		}
	}
	return nil
}

// RunOnce polls a single batch and processes it in order. Only the poll error
// is returned; per-message failures are logged and counted.
func (l *Loop[T]) RunOnce(ctx context.Context) error {
	batch, err := l.broker.Consume(ctx, l.topic)
	if err != nil {
		return fmt.Errorf("consume %s: %w", l.topic, err)
	}
	for _, d := range batch {
		if ctx.Err() != nil {
			// Unprocessed deliveries stay pending.
			return nil
		}
		l.process(ctx, d)
	}
	return nil
}

func (l *Loop[T]) process(ctx context.Context, d outbox.Delivery) {
	ctx, span := l.tracer.Start(ctx, "consumer.process", trace.WithAttributes(
		attribute.String("messaging.destination", l.topic),
		attribute.String("messaging.message.id", d.Message.ID),
	))
	defer span.End()

	log := l.logger.With("topic", l.topic, "message_id", d.Message.ID, "receipt", d.Receipt)

	msg, err := decode[T](d.Message.Data)
	if err != nil {
		l.metrics.IncPoison(l.topic)
		span.RecordError(err)
		log.WarnContext(ctx, "dropping undecodable message", "error", err)
		l.ack(ctx, d, log)
		return
	}

	if err := l.handler.Handle(ctx, msg); err != nil {
		l.metrics.IncFailed(l.topic)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		log.ErrorContext(ctx, "message handler failed; leaving pending", "error", err)
		return
	}

	if l.ack(ctx, d, log) {
		l.metrics.IncProcessed(l.topic)
	}
}

func (l *Loop[T]) ack(ctx context.Context, d outbox.Delivery, log *slog.Logger) bool {
	if err := l.broker.Acknowledge(ctx, l.topic, d.Receipt); err != nil {
		l.metrics.IncAckFailed(l.topic)
		log.ErrorContext(ctx, "acknowledge failed", "error", err)
		return false
	}
	return true
}

func decode[T any](data []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrPoison, err)
	}
	if v, ok := any(&msg).(validator); ok {
		if err := v.Validate(); err != nil {
			return msg, fmt.Errorf("%w: %w", ErrPoison, err)
		}
	}
	return msg, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
