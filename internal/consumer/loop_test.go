package consumer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"lamport/internal/consumer"
	"lamport/internal/outbox"
	"lamport/internal/outbox/memory"
	"lamport/internal/outbox/mocks"
	"lamport/internal/platform/logger"
	"lamport/internal/platform/metrics"
)

type event struct {
	SubjectID string `json:"subject_id"`
	EventType string `json:"event_type"`
}

func (e *event) Validate() error {
	if e.SubjectID == "" {
		return errors.New("subject_id is required")
	}
	return nil
}

// recorder is a handler that remembers what it saw and can be told to fail.
type recorder struct {
	mu     sync.Mutex
	seen   []event
	failOn string
}

func (r *recorder) Handle(_ context.Context, e event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.SubjectID == r.failOn {
		return errors.New("store unavailable")
	}
	r.seen = append(r.seen, e)
	return nil
}

func (r *recorder) Seen() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.seen...)
}

func publishRaw(t *testing.T, b *memory.Broker, id, data string) {
	t.Helper()
	require.NoError(t, b.Publish(context.Background(), outbox.Message{ID: id, Topic: outbox.TopicEvents, Data: []byte(data)}))
}

func newLoop(b outbox.Broker, h consumer.Handler[event], m *metrics.Metrics, opts ...consumer.Option) *consumer.Loop[event] {
	opts = append([]consumer.Option{consumer.WithLogger(logger.Discard()), consumer.WithMetrics(m)}, opts...)
	return consumer.New[event](b, outbox.TopicEvents, h, opts...)
}

func TestLoop_PoisonDoesNotBlockBatch(t *testing.T) {
	b := memory.New(memory.WithBlock(time.Millisecond))
	m := metrics.New(prometheus.NewRegistry())
	h := &recorder{}

	publishRaw(t, b, "garbage", `{not json`)
	publishRaw(t, b, "empty", `{}`)
	publishRaw(t, b, "valid", `{"subject_id":"7","event_type":"vote"}`)

	require.NoError(t, newLoop(b, h, m).RunOnce(context.Background()))

	assert.Equal(t, []event{{SubjectID: "7", EventType: "vote"}}, h.Seen())
	assert.Equal(t, []string{"garbage", "empty", "valid"}, b.Acked(outbox.TopicEvents))
	assert.Empty(t, b.Pending(outbox.TopicEvents))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ConsumerPoison.WithLabelValues(outbox.TopicEvents)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConsumerProcessed.WithLabelValues(outbox.TopicEvents)))
}

func TestLoop_HandlerFailureLeavesMessagePending(t *testing.T) {
	b := memory.New(memory.WithBlock(time.Millisecond))
	m := metrics.New(prometheus.NewRegistry())
	h := &recorder{failOn: "broken"}

	publishRaw(t, b, "m1", `{"subject_id":"broken","event_type":"vote"}`)
	publishRaw(t, b, "m2", `{"subject_id":"8","event_type":"vote"}`)

	loop := newLoop(b, h, m)
	require.NoError(t, loop.RunOnce(context.Background()))

	assert.Equal(t, []string{"m1"}, b.Pending(outbox.TopicEvents))
	assert.Equal(t, []string{"m2"}, b.Acked(outbox.TopicEvents))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConsumerFailed.WithLabelValues(outbox.TopicEvents)))

	// Once the dependency recovers the redelivered message goes through.
	h.mu.Lock()
	h.failOn = ""
	h.mu.Unlock()
	require.Equal(t, 1, b.Redeliver(outbox.TopicEvents))
	require.NoError(t, loop.RunOnce(context.Background()))
	assert.Equal(t, []string{"m2", "m1"}, b.Acked(outbox.TopicEvents))
}

func TestLoop_RecoversIdleDeliveryWithoutRedeliver(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2025, 1, 28, 8, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	b := memory.New(
		memory.WithBlock(time.Millisecond),
		memory.WithClaimIdle(time.Minute),
		memory.WithClock(clock),
	)
	h := &recorder{failOn: "broken"}
	loop := newLoop(b, h, nil)

	publishRaw(t, b, "m1", `{"subject_id":"broken","event_type":"vote"}`)
	require.NoError(t, loop.RunOnce(context.Background()))
	assert.Equal(t, []string{"m1"}, b.Pending(outbox.TopicEvents))

	h.mu.Lock()
	h.failOn = ""
	h.mu.Unlock()
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(b.Acked(outbox.TopicEvents)) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []event{{SubjectID: "broken", EventType: "vote"}}, h.Seen())
	assert.Empty(t, b.Pending(outbox.TopicEvents))
}

func TestLoop_AckFailureContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	broker := mocks.NewMockBroker(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	h := &recorder{}

	broker.EXPECT().Consume(gomock.Any(), outbox.TopicEvents).Return([]outbox.Delivery{
		{Receipt: "1-0", Message: outbox.Message{ID: "a", Data: []byte(`{"subject_id":"1"}`)}},
		{Receipt: "2-0", Message: outbox.Message{ID: "b", Data: []byte(`{"subject_id":"2"}`)}},
	}, nil)
	gomock.InOrder(
		broker.EXPECT().Acknowledge(gomock.Any(), outbox.TopicEvents, "1-0").Return(errors.New("connection reset")),
		broker.EXPECT().Acknowledge(gomock.Any(), outbox.TopicEvents, "2-0").Return(nil),
	)

	require.NoError(t, newLoop(broker, h, m).RunOnce(context.Background()))
	assert.Len(t, h.Seen(), 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConsumerAckFailed.WithLabelValues(outbox.TopicEvents)))
}

func TestLoop_PollFailureBacksOffAndRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	broker := mocks.NewMockBroker(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	const backoff = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []time.Time
	broker.EXPECT().Consume(gomock.Any(), outbox.TopicEvents).DoAndReturn(
		func(context.Context, string) ([]outbox.Delivery, error) {
			calls = append(calls, time.Now())
			if len(calls) == 3 {
				cancel()
			}
			return nil, errors.New("broker down")
		}).Times(3)

	loop := newLoop(broker, &recorder{}, m, consumer.WithPollBackoff(backoff))
	require.NoError(t, loop.Run(ctx))

	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), backoff)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ConsumerPollFailed.WithLabelValues(outbox.TopicEvents)))
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	b := memory.New(memory.WithBlock(20 * time.Millisecond))
	h := &recorder{}
	loop := newLoop(b, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	publishRaw(t, b, "m1", `{"subject_id":"7","event_type":"vote"}`)
	require.Eventually(t, func() bool { return len(h.Seen()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, []string{"m1"}, b.Acked(outbox.TopicEvents))
}
