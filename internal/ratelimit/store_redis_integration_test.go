//go:build integration

package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamport/internal/ratelimit"
	"lamport/pkg/testutil/containers"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))
	store := ratelimit.NewRedis(rc.Client, "test")

	t.Run("limit holds under concurrency", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Allow(ctx, "register:198.51.100.1", 10, time.Minute)
				if err != nil || !res.Allowed {
					return
				}
				mu.Lock()
				allowed++
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 10, allowed)

		res, err := store.Allow(ctx, "register:198.51.100.1", 10, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Positive(t, res.RetryAfter)
	})

	t.Run("window expires", func(t *testing.T) {
		res, err := store.Allow(ctx, "register:198.51.100.2", 1, 200*time.Millisecond)
		require.NoError(t, err)
		require.True(t, res.Allowed)

		assert.Eventually(t, func() bool {
			res, err := store.Allow(ctx, "register:198.51.100.2", 1, 200*time.Millisecond)
			return err == nil && res.Allowed
		}, 3*time.Second, 50*time.Millisecond)
	})
}
