package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all metrics for the collaborative-editing server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP/upgrade metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram

	// Session metrics
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	documentsActive   prometheus.Gauge

	// Syncer metrics
	broadcastDuration  prometheus.Histogram
	storeUpdateLatency prometheus.Histogram
	storeUpdateErrors  prometheus.Counter
	updatesPersisted   prometheus.Counter
}

// NewMetrics creates a new metrics instance, registered against a
// fresh, private Prometheus registry rather than the process-global
// prometheus.DefaultRegisterer. Each call returns an independently
// registered set of collectors, so multiple instances (one per test,
// one per server) never collide on collector name.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, by status outcome",
			},
			[]string{"outcome"},
		),

		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of live client sessions",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total number of client sessions accepted",
		}),

		documentsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncer_documents_active",
			Help: "Current number of live Syncer actors",
		}),

		broadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncer_broadcast_duration_seconds",
			Help:    "Time to fan a frame out to all peers except the sender",
			Buckets: prometheus.DefBuckets,
		}),

		storeUpdateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "store_update_duration_seconds",
			Help:    "Time spent in the transactional store-update procedure",
			Buckets: prometheus.DefBuckets,
		}),

		storeUpdateErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "store_update_errors_total",
			Help: "Total number of failed store-update transactions",
		}),

		updatesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "document_updates_persisted_total",
			Help: "Total number of CRDT updates durably appended",
		}),
	}
}

// RecordRequest records the outcome of a request to the upgrade route:
// "upgraded" on success, or the error code it was rejected with.
func (m *Metrics) RecordRequest(outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

// SessionConnected records a newly accepted client session.
func (m *Metrics) SessionConnected() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// SessionDisconnected records a client session ending.
func (m *Metrics) SessionDisconnected() {
	m.connectionsActive.Dec()
}

// SyncerStarted records a newly spawned Syncer actor.
func (m *Metrics) SyncerStarted() {
	m.documentsActive.Inc()
}

// SyncerStopped records a Syncer actor terminating.
func (m *Metrics) SyncerStopped() {
	m.documentsActive.Dec()
}

// RecordBroadcast records how long a fan-out to peers took.
func (m *Metrics) RecordBroadcast(duration time.Duration) {
	m.broadcastDuration.Observe(duration.Seconds())
}

// RecordStoreUpdate records the latency of one store-update transaction
// and whether it succeeded.
func (m *Metrics) RecordStoreUpdate(duration time.Duration, err error) {
	m.storeUpdateLatency.Observe(duration.Seconds())
	if err != nil {
		m.storeUpdateErrors.Inc()
		return
	}
	m.updatesPersisted.Inc()
}

// GetRegistry returns the Prometheus registry backing these metrics, for
// mounting on the /metrics endpoint.
func (m *Metrics) GetRegistry() prometheus.Gatherer {
	return m.registry
}
