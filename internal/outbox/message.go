// Package outbox carries write-path side effects to the asynchronous
// consumers through a message broker.
package outbox

import (
	"encoding/json"
	"errors"
	"time"
)

// Topic names used by the settlement pipeline.
const (
	TopicEvents = "events"
	TopicRelay  = "nostr"
)

var (
	// ErrEnqueueFailed wraps every serialization or broker failure seen by
	// Producer.Enqueue.
	ErrEnqueueFailed = errors.New("enqueue failed")
	// ErrBrokerClosed is returned by brokers used after Close.
	ErrBrokerClosed = errors.New("broker closed")
	// ErrUnknownDelivery is returned when acknowledging an id the broker
	// never handed out.
	ErrUnknownDelivery = errors.New("unknown delivery")
)

// Message is one outbox record. Data is the JSON encoding of the typed
// payload; ID is assigned once at enqueue time and survives redelivery.
type Message struct {
	ID         string
	Topic      string
	Data       json.RawMessage
	EnqueuedAt time.Time
}

// Delivery is a message handed to a consumer. Receipt is the broker-specific
// handle passed back to Acknowledge; it may differ from Message.ID.
type Delivery struct {
	Receipt string
	Message Message
}

// Envelope is the wire form {id, data} used by brokers that carry a single
// payload per record.
type Envelope struct {
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	EnqueuedAt int64           `json:"enqueued_at,omitempty"`
}

// EncodeEnvelope renders m in its wire form.
func EncodeEnvelope(m Message) ([]byte, error) {
	var enqueued int64
	if !m.EnqueuedAt.IsZero() {
		enqueued = m.EnqueuedAt.UnixMilli()
	}
	return json.Marshal(Envelope{ID: m.ID, Data: m.Data, EnqueuedAt: enqueued})
}

// DecodeEnvelope parses the wire form. A malformed envelope yields a Message
// with the raw bytes as Data so the consumer can treat it as poison.
func DecodeEnvelope(topic string, raw []byte) Message {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{Topic: topic, Data: raw}
	}
	m := Message{ID: env.ID, Topic: topic, Data: env.Data}
	if env.EnqueuedAt > 0 {
		m.EnqueuedAt = time.UnixMilli(env.EnqueuedAt).UTC()
	}
	return m
}
