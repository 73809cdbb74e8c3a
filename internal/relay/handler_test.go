package relay_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"lamport/internal/consumer"
	"lamport/internal/outbox"
	"lamport/internal/outbox/memory"
	"lamport/internal/platform/logger"
	"lamport/internal/platform/metrics"
	"lamport/internal/relay"
	"lamport/internal/relay/mocks"
)

func newHandler(t *testing.T, pub relay.EventPublisher, m *metrics.Metrics) *relay.Handler {
	t.Helper()
	s, err := relay.NewSigner(testSecret)
	require.NoError(t, err)
	return relay.NewHandler(s, pub, relay.WithLogger(logger.Discard()), relay.WithMetrics(m))
}

func TestHandler_SignsAndPublishes(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)
	m := metrics.New(prometheus.NewRegistry())

	bind, err := relay.NewBind("42", "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", "0xsig")
	require.NoError(t, err)

	pub.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev nostr.Event) (string, error) {
			assert.Equal(t, relay.KindBind, ev.Kind)
			assert.Equal(t, testPubKey, ev.PubKey)
			ok, err := ev.CheckSignature()
			assert.NoError(t, err)
			assert.True(t, ok)
			return ev.ID, nil
		})

	require.NoError(t, newHandler(t, pub, m).Handle(context.Background(), relay.Message{Action: bind}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayPublished))
}

func TestHandler_PublishFailureIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)
	m := metrics.New(prometheus.NewRegistry())

	create, err := relay.NewCreate("42", "@alice")
	require.NoError(t, err)

	relayDown := errors.New("relay unreachable")
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return("", relayDown)

	err = newHandler(t, pub, m).Handle(context.Background(), relay.Message{Action: create})
	require.ErrorIs(t, err, relayDown)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RelayPublished))
}

func TestHandler_FailedPublishStaysPendingUntilRetried(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	broker := memory.New(memory.WithBlock(time.Millisecond))

	producer := outbox.NewProducer(broker,
		outbox.WithLogger(logger.Discard()),
		outbox.WithIDGenerator(func() string { return "relay-1" }),
	)
	invite, err := relay.NewInvite("42", "lamport", "bob", "")
	require.NoError(t, err)
	require.NoError(t, producer.Enqueue(ctx, outbox.TopicRelay, relay.Message{Action: invite}))

	loop := consumer.New[relay.Message](broker, outbox.TopicRelay, newHandler(t, pub, m),
		consumer.WithLogger(logger.Discard()),
		consumer.WithMetrics(m),
	)

	gomock.InOrder(
		pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return("", errors.New("timeout")),
		pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, ev nostr.Event) (string, error) { return ev.ID, nil },
		),
	)

	require.NoError(t, loop.RunOnce(ctx))
	assert.Equal(t, []string{"relay-1"}, broker.Pending(outbox.TopicRelay))
	assert.Empty(t, broker.Acked(outbox.TopicRelay))

	require.Equal(t, 1, broker.Redeliver(outbox.TopicRelay))
	require.NoError(t, loop.RunOnce(ctx))
	assert.Empty(t, broker.Pending(outbox.TopicRelay))
	assert.Equal(t, []string{"relay-1"}, broker.Acked(outbox.TopicRelay))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerFailed.WithLabelValues(outbox.TopicRelay)))
}

func TestHandler_UndecodableRelayMessageIsPoison(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	broker := memory.New(memory.WithBlock(time.Millisecond))

	require.NoError(t, broker.Publish(ctx, outbox.Message{
		ID:    "bad",
		Topic: outbox.TopicRelay,
		Data:  []byte(`{"type":"teleport","action":{}}`),
	}))

	loop := consumer.New[relay.Message](broker, outbox.TopicRelay, newHandler(t, pub, m),
		consumer.WithLogger(logger.Discard()),
		consumer.WithMetrics(m),
	)
	require.NoError(t, loop.RunOnce(ctx))

	assert.Equal(t, []string{"bad"}, broker.Acked(outbox.TopicRelay))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerPoison.WithLabelValues(outbox.TopicRelay)))
}
