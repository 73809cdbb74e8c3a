package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamport/internal/ledger"
	"lamport/internal/platform/logger"
	"lamport/internal/platform/metrics"
)

type purgeFunc func(ctx context.Context) (int64, error)

func (f purgeFunc) PurgeExpired(ctx context.Context) (int64, error) { return f(ctx) }

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	_, err := ledger.NewSweeper(ledger.NewInMemory(), "every now and then")
	require.Error(t, err)
}

func TestSweeper_SweepOnceRecordsPurgedCount(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := ledger.NewInMemory(ledger.WithClock(clock.Now))
	m := metrics.New(prometheus.NewRegistry())

	for i := 0; i < 3; i++ {
		_, err := store.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourceEnergy, Category: ledger.CategoryVote, Amount: 1, TTL: ttl(time.Minute)})
		require.NoError(t, err)
	}
	clock.Advance(time.Hour)

	sweeper, err := ledger.NewSweeper(store, "@every 1h",
		ledger.WithSweeperLogger(logger.Discard()),
		ledger.WithSweeperMetrics(m),
	)
	require.NoError(t, err)

	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.LedgerPurged))
}

func TestSweeper_SweepOnceFailure(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	boom := errors.New("db down")
	sweeper, err := ledger.NewSweeper(purgeFunc(func(context.Context) (int64, error) { return 0, boom }), "@hourly",
		ledger.WithSweeperLogger(logger.Discard()),
		ledger.WithSweeperMetrics(m),
	)
	require.NoError(t, err)

	_, err = sweeper.SweepOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LedgerSweepFailed))
}

func TestSweeper_RunFiresAndStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 8)
	sweeper, err := ledger.NewSweeper(purgeFunc(func(context.Context) (int64, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return 0, nil
	}), "@every 1s", ledger.WithSweeperLogger(logger.Discard()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	select {
	case <-calls:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep did not run")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
