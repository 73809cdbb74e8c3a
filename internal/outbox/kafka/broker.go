// Package kafka implements outbox.Broker on Kafka with franz-go. Each topic
// gets its own group consumer; offsets are committed manually so a record is
// only skipped after it and everything before it were acknowledged.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"lamport/internal/outbox"
)

// Config selects brokers and consumer identity.
type Config struct {
	Brokers   []string
	Group     string
	ClientID  string
	BatchSize int
	Block     time.Duration
	// ClaimIdle is how long a record may wait for an ack before its partition
	// is rewound to it.
	ClaimIdle time.Duration
	// MaxInflight caps unacknowledged records per partition; fetching pauses
	// at the cap.
	MaxInflight int
	// Partitions and Replication are used when EnsureTopics creates a topic.
	Partitions  int32
	Replication int16
}

// Broker owns one producer client and lazily one consumer client per topic.
type Broker struct {
	cfg      Config
	producer *kgo.Client
	logger   *slog.Logger

	mu        sync.Mutex
	consumers map[string]*topicConsumer
	closed    bool
}

type Option func(*Broker)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func New(cfg Config, opts ...Option) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Group == "" {
		cfg.Group = "lamport"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "lamport"
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
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 100 * cfg.BatchSize
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.Replication <= 0 {
		cfg.Replication = 1
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	b := &Broker{
		cfg:       cfg,
		producer:  producer,
		logger:    slog.Default(),
		consumers: make(map[string]*topicConsumer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// EnsureTopics creates missing topics. Existing topics are left as they are.
func (b *Broker) EnsureTopics(ctx context.Context, topics ...string) error {
	adm := kadm.NewClient(b.producer)
	resp, err := adm.CreateTopics(ctx, b.cfg.Partitions, b.cfg.Replication, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces synchronously with the message id as record key.
func (b *Broker) Publish(ctx context.Context, msg outbox.Message) error {
	value, err := outbox.EncodeEnvelope(msg)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	rec := &kgo.Record{
		Topic: msg.Topic,
		Key:   []byte(msg.ID),
		Value: value,
	}
	if err := b.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *Broker) consumer(topic string) (*topicConsumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, outbox.ErrBrokerClosed
	}
	if tc, ok := b.consumers[topic]; ok {
		return tc, nil
	}
	tc, err := newTopicConsumer(b.cfg, topic, b.logger)
	if err != nil {
		return nil, err
	}
	b.consumers[topic] = tc
	return tc, nil
}

// Consume polls up to BatchSize records, waiting at most Block.
func (b *Broker) Consume(ctx context.Context, topic string) ([]outbox.Delivery, error) {
	tc, err := b.consumer(topic)
	if err != nil {
		return nil, err
	}
	return tc.poll(ctx, b.cfg.BatchSize, b.cfg.Block)
}

func (b *Broker) Acknowledge(ctx context.Context, topic, receipt string) error {
	partition, offset, err := parseReceipt(topic, receipt)
	if err != nil {
		return err
	}
	tc, err := b.consumer(topic)
	if err != nil {
		return err
	}
	return tc.ack(ctx, partition, offset)
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, tc := range b.consumers {
		tc.client.Close()
	}
	b.producer.Close()
	return nil
}

// receipt encodes topic/partition/offset.
func receipt(r *kgo.Record) string {
	return fmt.Sprintf("%s/%d/%d", r.Topic, r.Partition, r.Offset)
}

func parseReceipt(topic, receipt string) (int32, int64, error) {
	i := strings.LastIndex(receipt, "/")
	if i < 0 {
		return 0, 0, fmt.Errorf("malformed receipt %q: %w", receipt, outbox.ErrUnknownDelivery)
	}
	j := strings.LastIndex(receipt[:i], "/")
	if j < 0 || receipt[:j] != topic {
		return 0, 0, fmt.Errorf("receipt %q does not belong to %s: %w", receipt, topic, outbox.ErrUnknownDelivery)
	}
	partition, err := strconv.ParseInt(receipt[j+1:i], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed receipt %q: %w", receipt, outbox.ErrUnknownDelivery)
	}
	offset, err := strconv.ParseInt(receipt[i+1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed receipt %q: %w", receipt, outbox.ErrUnknownDelivery)
	}
	return int32(partition), offset, nil
}
