package lamportid

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "lamport_id"

// issueScript increments only an existing counter. A missing key replies nil
// instead of letting INCR create it at 1.
var issueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
return redis.call('INCR', KEYS[1])
`)

// RedisAllocator keeps the counter in a single redis key.
type RedisAllocator struct {
	client *redis.Client
	key    string
	opts   options
}

// NewRedis constructs a redis-backed allocator on key. An empty key uses
// "lamport_id".
func NewRedis(client *redis.Client, key string, opts ...Option) *RedisAllocator {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisAllocator{client: client, key: key, opts: buildOptions(opts)}
}

func (a *RedisAllocator) Current(ctx context.Context) (int64, error) {
	value, err := a.client.Get(ctx, a.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotInitialized
	}
	if err != nil {
		return 0, fmt.Errorf("read lamport counter: %w", err)
	}
	return value, nil
}

func (a *RedisAllocator) IssueAndIncrement(ctx context.Context) (int64, error) {
	next, err := issueScript.Run(ctx, a.client, []string{a.key}).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotInitialized
	}
	if err != nil {
		return 0, fmt.Errorf("issue lamport id: %w", err)
	}
	a.opts.metrics.IncIssued()
	return next - 1, nil
}

// Seed uses SETNX so a running counter is never rewound.
func (a *RedisAllocator) Seed(ctx context.Context, start int64) (bool, error) {
	if start < 0 {
		return false, ErrInvalidSeed
	}
	created, err := a.client.SetNX(ctx, a.key, start, 0).Result()
	if err != nil {
		return false, fmt.Errorf("seed lamport counter: %w", err)
	}
	return created, nil
}
