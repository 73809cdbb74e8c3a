package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store persists timeline records.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, eventID uuid.UUID) (*Record, error)
	ListBySubject(ctx context.Context, subjectID string, page Page) ([]*Record, error)
	ListByTypes(ctx context.Context, types []EventType, page Page) ([]*Record, error)
	CountBySubject(ctx context.Context, subjectID string) (int64, error)
}

// Writer is the events topic handler. Each delivery becomes a new record with
// a fresh id, so a redelivered message produces a second row.
type Writer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type WriterOption func(*Writer)

func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

func (w *Writer) Handle(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	r := &Record{
		EventID:   uuid.New(),
		SubjectID: e.SubjectID,
		EventType: e.EventType,
		Content:   e.Content,
		CreatedAt: w.now().UTC(),
	}
	if err := w.store.Create(ctx, r); err != nil {
		return fmt.Errorf("write timeline record: %w", err)
	}
	w.logger.DebugContext(ctx, "timeline record written",
		"event_id", r.EventID,
		"lamport_id", r.SubjectID,
		"event_type", r.EventType,
	)
	return nil
}
