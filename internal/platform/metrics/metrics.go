package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the settlement pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ConsumerProcessed  *prometheus.CounterVec
	ConsumerPoison     *prometheus.CounterVec
	ConsumerFailed     *prometheus.CounterVec
	ConsumerAckFailed  *prometheus.CounterVec
	ConsumerPollFailed *prometheus.CounterVec
	LamportIssued      prometheus.Counter
	LedgerPurged       prometheus.Counter
	LedgerSweepFailed  prometheus.Counter
	OutboxEnqueued     *prometheus.CounterVec
	RelayPublished     prometheus.Counter
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConsumerProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_consumer_processed_total",
			Help: "Messages handled and acknowledged",
		}, []string{"topic"}),
		ConsumerPoison: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_consumer_poison_total",
			Help: "Undecodable messages acknowledged without handling",
		}, []string{"topic"}),
		ConsumerFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_consumer_handler_failed_total",
			Help: "Messages left pending after a handler error",
		}, []string{"topic"}),
		ConsumerAckFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_consumer_ack_failed_total",
			Help: "Acknowledgements rejected by the broker",
		}, []string{"topic"}),
		ConsumerPollFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_consumer_poll_failed_total",
			Help: "Broker polls that returned an error",
		}, []string{"topic"}),
		LamportIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "lamport_ids_issued_total",
			Help: "Lamport identifiers issued by this process",
		}),
		LedgerPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "lamport_ledger_purged_entries_total",
			Help: "Expired ledger entries removed by the sweeper",
		}),
		LedgerSweepFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "lamport_ledger_sweep_failed_total",
			Help: "Ledger sweeps that returned an error",
		}),
		OutboxEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_outbox_enqueued_total",
			Help: "Messages written to the broker",
		}, []string{"topic"}),
		RelayPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "lamport_relay_published_total",
			Help: "Signed events accepted by at least one relay",
		}),
	}
}

func (m *Metrics) IncProcessed(topic string) {
	if m == nil {
		return
	}
	m.ConsumerProcessed.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncPoison(topic string) {
	if m == nil {
		return
	}
	m.ConsumerPoison.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncFailed(topic string) {
	if m == nil {
		return
	}
	m.ConsumerFailed.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncAckFailed(topic string) {
	if m == nil {
		return
	}
	m.ConsumerAckFailed.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncPollFailed(topic string) {
	if m == nil {
		return
	}
	m.ConsumerPollFailed.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncIssued() {
	if m == nil {
		return
	}
	m.LamportIssued.Inc()
}

// AddPurged records a completed sweep.
func (m *Metrics) AddPurged(n int64) {
	if m == nil {
		return
	}
	m.LedgerPurged.Add(float64(n))
}

func (m *Metrics) IncSweepFailed() {
	if m == nil {
		return
	}
	m.LedgerSweepFailed.Inc()
}

func (m *Metrics) IncEnqueued(topic string) {
	if m == nil {
		return
	}
	m.OutboxEnqueued.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncPublished() {
	if m == nil {
		return
	}
	m.RelayPublished.Inc()
}
