package relay

import (
	"context"
	"fmt"
	"log/slog"

	"lamport/internal/platform/metrics"
)

// Handler consumes the relay topic: sign, then publish. Failures are returned
// so the delivery stays pending and is retried.
type Handler struct {
	signer    *Signer
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type HandlerOption func(*Handler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

func NewHandler(signer *Signer, publisher EventPublisher, opts ...HandlerOption) *Handler {
	h := &Handler{signer: signer, publisher: publisher, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Handler) Handle(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	ev, err := h.signer.Sign(h.signer.Envelope(msg.Action))
	if err != nil {
		return fmt.Errorf("sign %s action: %w", msg.Action.Type(), err)
	}
	id, err := h.publisher.Publish(ctx, ev)
	if err != nil {
		return fmt.Errorf("publish %s action: %w", msg.Action.Type(), err)
	}
	h.metrics.IncPublished()
	h.logger.InfoContext(ctx, "relay event published",
		"event_id", id,
		"kind", ev.Kind,
		"action", msg.Action.Type(),
	)
	return nil
}
