package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncProcessed("events")
		m.IncPoison("events")
		m.IncFailed("events")
		m.IncAckFailed("events")
		m.IncPollFailed("events")
		m.IncIssued()
		m.AddPurged(3)
		m.IncSweepFailed()
		m.IncEnqueued("nostr")
		m.IncPublished()
	})
}

func TestCountersRecordPerTopic(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncProcessed("events")
	m.IncProcessed("events")
	m.IncProcessed("nostr")
	m.IncEnqueued("nostr")
	m.AddPurged(4)
	m.IncIssued()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsumerProcessed.WithLabelValues("events")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerProcessed.WithLabelValues("nostr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEnqueued.WithLabelValues("nostr")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LedgerPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LamportIssued))
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
