// Package lamportid issues the monotonic member identifiers ("Lamport IDs").
//
// Every backend keeps exactly one counter. IssueAndIncrement returns the value
// the counter held before the call and persists value+1 in the same atomic
// step, so concurrent callers always receive distinct, increasing values.
package lamportid

import (
	"context"
	"errors"
	"time"

	"lamport/internal/platform/metrics"
)

var (
	// ErrNotInitialized is returned when the counter was never seeded.
	ErrNotInitialized = errors.New("lamport counter not initialized")
	// ErrClosed is returned by the memory allocator after Close.
	ErrClosed = errors.New("lamport allocator closed")
	// ErrInvalidSeed rejects negative starting values.
	ErrInvalidSeed = errors.New("lamport seed must not be negative")
)

// Allocator is the read/issue surface used by the membership flows.
type Allocator interface {
	Current(ctx context.Context) (int64, error)
	IssueAndIncrement(ctx context.Context) (int64, error)
}

// Seeder creates the counter when it does not exist yet. It never rewinds an
// existing counter; created reports whether this call did the insert.
type Seeder interface {
	Seed(ctx context.Context, start int64) (created bool, err error)
}

type options struct {
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures any allocator backend.
type Option func(*options)

// WithClock overrides time.Now for updated_at bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics counts issued identifiers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
