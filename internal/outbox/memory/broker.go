// Package memory is an in-process outbox.Broker for tests and single-node
// development. It keeps at-least-once semantics: consumed messages stay
// pending until acknowledged. Consume hands a pending message out again once
// it has been idle for the claim duration; Redeliver requeues them at once.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lamport/internal/outbox"
)

const (
	defaultBatchSize = 10
	defaultBlock     = 100 * time.Millisecond
	defaultClaimIdle = time.Minute
)

type pendingMsg struct {
	msg         outbox.Message
	deliveredAt time.Time
}

type topicLog struct {
	ready   []outbox.Message
	pending map[string]pendingMsg
	order   []string
	acked   []string
}

// Broker stores topics in maps guarded by one mutex.
type Broker struct {
	mu        sync.Mutex
	topics    map[string]*topicLog
	notify    chan struct{}
	closed    bool
	batchSize int
	block     time.Duration
	claimIdle time.Duration
	now       func() time.Time
}

type Option func(*Broker)

func WithBatchSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithBlock sets how long Consume waits for a publish when a topic is empty.
// Non-positive durations keep the default so an idle loop never spins.
func WithBlock(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.block = d
		}
	}
}

// WithClaimIdle sets how long a delivery may stay unacknowledged before
// Consume hands it out again.
func WithClaimIdle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.claimIdle = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

func New(opts ...Option) *Broker {
	b := &Broker{
		topics:    make(map[string]*topicLog),
		notify:    make(chan struct{}),
		batchSize: defaultBatchSize,
		block:     defaultBlock,
		claimIdle: defaultClaimIdle,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Broker) topicLocked(topic string) *topicLog {
	t, ok := b.topics[topic]
	if !ok {
		t = &topicLog{pending: make(map[string]pendingMsg)}
		b.topics[topic] = t
	}
	return t
}

// wakeLocked releases every Consume waiting for a publish.
func (b *Broker) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

func (b *Broker) Publish(_ context.Context, msg outbox.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return outbox.ErrBrokerClosed
	}
	t := b.topicLocked(msg.Topic)
	t.ready = append(t.ready, msg)
	b.wakeLocked()
	return nil
}

// Consume moves up to the batch size of ready messages to pending, after first
// requeueing pending messages idle for longer than the claim duration. When
// nothing is ready it waits up to the block duration for a publish.
func (b *Broker) Consume(ctx context.Context, topic string) ([]outbox.Delivery, error) {
	deadline := time.NewTimer(b.block)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, outbox.ErrBrokerClosed
		}
		t := b.topicLocked(topic)
		now := b.now()
		t.requeueLocked(func(p pendingMsg) bool { return now.Sub(p.deliveredAt) >= b.claimIdle })
		if len(t.ready) > 0 {
			n := min(len(t.ready), b.batchSize)
			batch := make([]outbox.Delivery, 0, n)
			for _, msg := range t.ready[:n] {
				t.pending[msg.ID] = pendingMsg{msg: msg, deliveredAt: now}
				t.order = append(t.order, msg.ID)
				batch = append(batch, outbox.Delivery{Receipt: msg.ID, Message: msg})
			}
			t.ready = t.ready[n:]
			b.mu.Unlock()
			return batch, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-wait:
		}
	}
}

func (b *Broker) Acknowledge(_ context.Context, topic, receipt string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return outbox.ErrBrokerClosed
	}
	t := b.topicLocked(topic)
	if _, ok := t.pending[receipt]; !ok {
		return fmt.Errorf("ack %s on %s: %w", receipt, topic, outbox.ErrUnknownDelivery)
	}
	delete(t.pending, receipt)
	t.acked = append(t.acked, receipt)
	return nil
}

// Redeliver makes every pending message of topic consumable again, in the
// order it was delivered. It returns how many were requeued.
func (b *Broker) Redeliver(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.topicLocked(topic).requeueLocked(func(pendingMsg) bool { return true })
	if n > 0 {
		b.wakeLocked()
	}
	return n
}

// requeueLocked moves the pending messages matching stale to the front of
// ready, keeping delivery order, and drops acknowledged ids from order.
func (t *topicLog) requeueLocked(stale func(pendingMsg) bool) int {
	var requeue []outbox.Message
	kept := t.order[:0]
	for _, id := range t.order {
		p, ok := t.pending[id]
		switch {
		case !ok:
		case stale(p):
			requeue = append(requeue, p.msg)
			delete(t.pending, id)
		default:
			kept = append(kept, id)
		}
	}
	t.order = kept
	if len(requeue) > 0 {
		t.ready = append(requeue, t.ready...)
	}
	return len(requeue)
}

// Pending returns the ids delivered but not yet acknowledged.
func (b *Broker) Pending(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicLocked(topic)
	var ids []string
	for _, id := range t.order {
		if _, ok := t.pending[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Acked returns acknowledged receipts in acknowledgement order.
func (b *Broker) Acked(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicLocked(topic)
	return append([]string(nil), t.acked...)
}

// Ready returns how many messages wait for their first (or next) delivery.
func (b *Broker) Ready(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topicLocked(topic).ready)
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.wakeLocked()
	}
	return nil
}
