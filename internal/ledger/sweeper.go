package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"lamport/internal/platform/metrics"
)

// Purger is the part of Ledger the sweeper needs.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper deletes expired entries on a cron schedule.
type Sweeper struct {
	purger   Purger
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type SweeperOption func(*Sweeper)

func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSweeperMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithSweepTimeout bounds a single purge run.
func WithSweepTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSweeper validates schedule (standard cron syntax or descriptors such as
// "@every 1h").
func NewSweeper(purger Purger, schedule string, opts ...SweeperOption) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		purger:   purger,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// SweepOnce runs a single purge and records the outcome.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.metrics.IncSweepFailed()
		s.logger.ErrorContext(ctx, "ledger sweep failed", "error", err)
		return 0, err
	}
	s.metrics.AddPurged(n)
	if n > 0 {
		s.logger.InfoContext(ctx, "ledger sweep purged expired entries", "count", n)
	}
	return n, nil
}

// Run schedules sweeps until ctx is cancelled, then waits for a running sweep
// to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() {
		_, _ = s.SweepOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule ledger sweep: %w", err)
	}
	c.Start()
	s.logger.Info("ledger sweeper started", "schedule", s.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("ledger sweeper stopped")
	return nil
}
