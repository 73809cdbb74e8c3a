package outbox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamport/internal/outbox"
)

func TestEnvelopeWireFormat(t *testing.T) {
	msg := outbox.Message{
		ID:         "abc",
		Topic:      outbox.TopicEvents,
		Data:       []byte(`{"subject_id":"7"}`),
		EnqueuedAt: time.UnixMilli(1700000000000).UTC(),
	}
	raw, err := outbox.EncodeEnvelope(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc","data":{"subject_id":"7"},"enqueued_at":1700000000000}`, string(raw))

	assert.Equal(t, msg, outbox.DecodeEnvelope(outbox.TopicEvents, raw))
}

func TestDecodeEnvelopeKeepsGarbageAsData(t *testing.T) {
	got := outbox.DecodeEnvelope(outbox.TopicRelay, []byte("not json"))
	assert.Empty(t, got.ID)
	assert.Equal(t, outbox.TopicRelay, got.Topic)
	assert.Equal(t, "not json", string(got.Data))
}
