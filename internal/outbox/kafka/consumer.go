package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"lamport/internal/outbox"
)

// topicConsumer is a group member for a single topic. A record left
// unacknowledged for ClaimIdle makes its partition seek back to it; a
// partition with MaxInflight records outstanding stops fetching until acks
// catch up.
type topicConsumer struct {
	topic       string
	client      *kgo.Client
	logger      *slog.Logger
	claimIdle   time.Duration
	maxInflight int
	now         func() time.Time

	mu         sync.Mutex
	partitions map[int32]*offsetTracker
}

func newTopicConsumer(cfg Config, topic string, logger *slog.Logger) (*topicConsumer, error) {
	tc := &topicConsumer{
		topic:       topic,
		logger:      logger,
		claimIdle:   cfg.ClaimIdle,
		maxInflight: cfg.MaxInflight,
		now:         time.Now,
		partitions:  make(map[int32]*offsetTracker),
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.OnPartitionsRevoked(tc.forget),
		kgo.OnPartitionsLost(tc.forget),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer for %s: %w", topic, err)
	}
	tc.client = client
	return tc, nil
}

// forget drops tracking for partitions this member no longer owns; their
// unacknowledged records will be fetched again by the next owner.
func (tc *topicConsumer) forget(_ context.Context, cl *kgo.Client, lost map[string][]int32) {
	tc.mu.Lock()
	var paused []int32
	for _, p := range lost[tc.topic] {
		if t, ok := tc.partitions[p]; ok && t.paused {
			paused = append(paused, p)
		}
		delete(tc.partitions, p)
	}
	tc.mu.Unlock()
	if len(paused) > 0 {
		cl.ResumeFetchPartitions(map[string][]int32{tc.topic: paused})
	}
}

// reclaim seeks every partition whose head record sat unacknowledged for
// claimIdle back to that record, so the next poll delivers it again.
func (tc *topicConsumer) reclaim() {
	now := tc.now()
	seek := make(map[int32]kgo.EpochOffset)
	var resume []int32

	tc.mu.Lock()
	for p, t := range tc.partitions {
		head, ok := t.stuck(now, tc.claimIdle)
		if !ok {
			continue
		}
		seek[p] = kgo.EpochOffset{Epoch: -1, Offset: head.Offset}
		if t.paused {
			t.paused = false
			resume = append(resume, p)
		}
		t.rewind(head.Offset)
	}
	tc.mu.Unlock()

	if len(seek) == 0 {
		return
	}
	for p, eo := range seek {
		tc.logger.Warn("redelivering idle kafka record",
			"topic", tc.topic,
			"partition", p,
			"offset", eo.Offset,
		)
	}
	tc.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{tc.topic: seek})
	if len(resume) > 0 {
		tc.client.ResumeFetchPartitions(map[string][]int32{tc.topic: resume})
	}
}

func (tc *topicConsumer) poll(ctx context.Context, max int, block time.Duration) ([]outbox.Delivery, error) {
	tc.reclaim()

	pollCtx, cancel := context.WithTimeout(ctx, block)
	defer cancel()

	fetches := tc.client.PollRecords(pollCtx, max)
	if fetches.IsClientClosed() {
		return nil, outbox.ErrBrokerClosed
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		return nil, fmt.Errorf("poll %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out   []outbox.Delivery
		pause []int32
	)
	now := tc.now()
	tc.mu.Lock()
	fetches.EachRecord(func(r *kgo.Record) {
		if !tc.trackerLocked(r.Partition).delivered(r, now) {
			return
		}
		out = append(out, outbox.Delivery{
			Receipt: receipt(r),
			Message: outbox.DecodeEnvelope(r.Topic, r.Value),
		})
	})
	for p, t := range tc.partitions {
		if !t.paused && t.full(tc.maxInflight) {
			t.paused = true
			pause = append(pause, p)
		}
	}
	tc.mu.Unlock()

	if len(pause) > 0 {
		tc.logger.Warn("pausing kafka partitions with too many unacknowledged records",
			"topic", tc.topic,
			"partitions", pause,
			"max_inflight", tc.maxInflight,
		)
		tc.client.PauseFetchPartitions(map[string][]int32{tc.topic: pause})
	}
	return out, nil
}

func (tc *topicConsumer) trackerLocked(partition int32) *offsetTracker {
	t, ok := tc.partitions[partition]
	if !ok {
		t = newOffsetTracker()
		tc.partitions[partition] = t
	}
	return t
}

// ack commits the highest contiguous acknowledged offset of the partition.
func (tc *topicConsumer) ack(ctx context.Context, partition int32, offset int64) error {
	tc.mu.Lock()
	t, ok := tc.partitions[partition]
	if !ok {
		tc.mu.Unlock()
		return fmt.Errorf("ack %s[%d]@%d: %w", tc.topic, partition, offset, outbox.ErrUnknownDelivery)
	}
	commit, err := t.ack(offset)
	resume := t.paused && !t.full(tc.maxInflight)
	if resume {
		t.paused = false
	}
	tc.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ack %s[%d]@%d: %w", tc.topic, partition, offset, err)
	}
	if resume {
		tc.client.ResumeFetchPartitions(map[string][]int32{tc.topic: {partition}})
	}
	if commit == nil {
		return nil
	}
	if err := tc.client.CommitRecords(ctx, commit); err != nil {
		return fmt.Errorf("commit %s[%d]@%d: %w", tc.topic, partition, commit.Offset, err)
	}
	return nil
}
