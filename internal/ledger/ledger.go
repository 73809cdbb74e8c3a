// Package ledger stores the append-only points and energy entries and answers
// balance queries over them.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNoTransaction is returned by LockSubject when ctx carries no transaction.
var ErrNoTransaction = errors.New("no transaction in context")

// Ledger is implemented by the postgres and memory stores.
//
// Balances only count entries that have not expired. Award never rejects on
// balance; callers that need a floor check Balance first.
type Ledger interface {
	Award(ctx context.Context, g Grant) (*Entry, error)
	// AwardOnce appends g unless an entry with the same subject, resource and
	// onceKey exists, in which case it returns sentinel.ErrAlreadyUsed.
	AwardOnce(ctx context.Context, g Grant, onceKey string) (*Entry, error)
	Balance(ctx context.Context, subjectID string, resource Resource) (int64, error)
	// DailyBalance is Balance restricted to entries created since 00:00 UTC.
	DailyBalance(ctx context.Context, subjectID string, resource Resource) (int64, error)
	BalanceByCategory(ctx context.Context, subjectID string, resource Resource, category Category, description string) (int64, error)
	CountByCategory(ctx context.Context, subjectID string, resource Resource, category Category, description string) (int64, error)
	Summary(ctx context.Context, subjectID string) (Summary, error)
	PurgeExpired(ctx context.Context) (int64, error)
	// LockSubject serializes balance-checked writes for subjectID across
	// processes until the surrounding transaction ends. Without a transaction
	// in ctx it returns ErrNoTransaction.
	LockSubject(ctx context.Context, subjectID string) error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now; tests use it to place entries in time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
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
