// Package redisstream implements outbox.Broker on redis streams with one
// consumer group per deployment.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"lamport/internal/outbox"
)

const (
	fieldID       = "id"
	fieldData     = "data"
	fieldEnqueued = "enqueued_at"
)

// Config tunes reads. Zero values fall back to the defaults in New.
type Config struct {
	Group     string
	Consumer  string
	BatchSize int64
	Block     time.Duration
	// ClaimIdle is how long an entry may stay pending with another consumer
	// before this one reclaims it.
	ClaimIdle time.Duration
	// MaxLen caps each stream approximately; zero keeps every entry.
	MaxLen int64
}

// Broker publishes with XADD and consumes with XAUTOCLAIM + XREADGROUP.
type Broker struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	groups map[string]bool
}

type Option func(*Broker)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func New(client *redis.Client, cfg Config, opts ...Option) *Broker {
	if cfg.Group == "" {
		cfg.Group = "lamport"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = time.Minute
	}
	b := &Broker{
		client: client,
		cfg:    cfg,
		logger: slog.Default(),
		groups: make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Broker) Publish(ctx context.Context, msg outbox.Message) error {
	args := &redis.XAddArgs{
		Stream: msg.Topic,
		Values: map[string]any{
			fieldID:       msg.ID,
			fieldData:     string(msg.Data),
			fieldEnqueued: msg.EnqueuedAt.UnixMilli(),
		},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", msg.Topic, err)
	}
	return nil
}

// ensureGroup creates the stream and consumer group once per topic.
func (b *Broker) ensureGroup(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groups[topic] {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, topic, b.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", b.cfg.Group, topic, err)
	}
	b.groups[topic] = true
	return nil
}

// Consume first reclaims entries left pending longer than ClaimIdle (by any
// consumer, including this one after a handler failure), then reads new
// entries. A block timeout returns an empty batch.
func (b *Broker) Consume(ctx context.Context, topic string) ([]outbox.Delivery, error) {
	if err := b.ensureGroup(ctx, topic); err != nil {
		return nil, err
	}

	claimed, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    b.cfg.BatchSize,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim %s: %w", topic, err)
	}
	if len(claimed) > 0 {
		b.logger.InfoContext(ctx, "reclaimed idle stream entries", "topic", topic, "count", len(claimed))
		return toDeliveries(topic, claimed), nil
	}

	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{topic, ">"},
		Count:    b.cfg.BatchSize,
		Block:    b.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if isNoGroup(err) {
			b.forgetGroup(topic)
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", topic, err)
	}

	var out []outbox.Delivery
	for _, s := range streams {
		out = append(out, toDeliveries(topic, s.Messages)...)
	}
	return out, nil
}

func (b *Broker) Acknowledge(ctx context.Context, topic, receipt string) error {
	n, err := b.client.XAck(ctx, topic, b.cfg.Group, receipt).Result()
	if err != nil {
		return fmt.Errorf("xack %s %s: %w", topic, receipt, err)
	}
	if n == 0 {
		return fmt.Errorf("xack %s %s: %w", topic, receipt, outbox.ErrUnknownDelivery)
	}
	return nil
}

// Close is a no-op; the redis client is owned by the caller.
func (b *Broker) Close() error {
	return nil
}

// forgetGroup drops the cached group after the stream was deleted underneath
// us, so the next Consume recreates it.
func (b *Broker) forgetGroup(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.groups, topic)
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}

func toDeliveries(topic string, msgs []redis.XMessage) []outbox.Delivery {
	out := make([]outbox.Delivery, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, outbox.Delivery{Receipt: m.ID, Message: toMessage(topic, m)})
	}
	return out
}

// toMessage tolerates missing fields; an entry without data decodes as poison
// downstream.
func toMessage(topic string, m redis.XMessage) outbox.Message {
	msg := outbox.Message{Topic: topic}
	if v, ok := m.Values[fieldID].(string); ok {
		msg.ID = v
	}
	if v, ok := m.Values[fieldData].(string); ok {
		msg.Data = []byte(v)
	}
	if v, ok := m.Values[fieldEnqueued].(string); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			msg.EnqueuedAt = time.UnixMilli(ms).UTC()
		}
	}
	return msg
}
