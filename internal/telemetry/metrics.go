// Package telemetry holds the server's self-monitoring Prometheus
// metrics and the plain-JSON health endpoint. Grounded on the
// teacher's internal/telemetry.Metrics (promauto registration pattern,
// atomic counters mirrored for a cheap JSON health snapshot), renamed
// from request/trace ingestion to meter-telemetry ingestion.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all server self-monitoring metrics.
type Metrics struct {
	SamplesIngested   prometheus.Counter
	ActiveSubscribers prometheus.Gauge
	StoreLatency      prometheus.Histogram
	DeltasDropped     prometheus.Counter
	IngressQueueDepth prometheus.Gauge

	totalIngested   atomic.Int64
	activeSubs      atomic.Int64
	totalDropped    atomic.Int64
	storeLatencyP99 atomic.Int64
}

// New creates and registers all metrics.
func New() *Metrics {
	return &Metrics{
		SamplesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meterserver_samples_ingested_total",
			Help: "Total number of samples processed by the data store.",
		}),
		ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meterserver_active_subscribers",
			Help: "Number of currently connected live WebSocket subscribers.",
		}),
		StoreLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meterserver_store_latency_seconds",
			Help:    "Store insert/fetch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		DeltasDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meterserver_deltas_dropped_total",
			Help: "Total number of deltas dropped because a subscriber's queue was full.",
		}),
		IngressQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meterserver_ingress_queue_depth",
			Help: "Current depth of the ingress router's bounded channel.",
		}),
	}
}

// RecordIngestion increments the samples-ingested counter.
func (m *Metrics) RecordIngestion() {
	m.SamplesIngested.Inc()
	m.totalIngested.Add(1)
}

// SetActiveSubscribers updates the active-subscriber gauge.
func (m *Metrics) SetActiveSubscribers(n int) {
	m.ActiveSubscribers.Set(float64(n))
	m.activeSubs.Store(int64(n))
}

// RecordDeltaDropped increments the dropped-delta counter (spec §4.4
// SubscriberSlow policy).
func (m *Metrics) RecordDeltaDropped() {
	m.DeltasDropped.Inc()
	m.totalDropped.Add(1)
}

// SetIngressQueueDepth updates the ingress channel depth gauge.
func (m *Metrics) SetIngressQueueDepth(n int) {
	m.IngressQueueDepth.Set(float64(n))
}

// ObserveStoreLatency records a store operation latency in seconds.
func (m *Metrics) ObserveStoreLatency(seconds float64) {
	m.StoreLatency.Observe(seconds)
	m.storeLatencyP99.Store(int64(seconds * 1000))
}

// HealthStats is the JSON response for GET /healthz.
type HealthStats struct {
	SamplesIngested   int64   `json:"samples_ingested"`
	ActiveSubscribers int64   `json:"active_subscribers"`
	DeltasDropped     int64   `json:"deltas_dropped"`
	StoreLatencyP99Ms float64 `json:"store_latency_p99_ms"`
}

// Snapshot returns the current telemetry values.
func (m *Metrics) Snapshot() HealthStats {
	return HealthStats{
		SamplesIngested:   m.totalIngested.Load(),
		ActiveSubscribers: m.activeSubs.Load(),
		DeltasDropped:     m.totalDropped.Load(),
		StoreLatencyP99Ms: float64(m.storeLatencyP99.Load()),
	}
}

// HealthHandler serves GET /healthz as plain JSON.
func (m *Metrics) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	}
}

// PrometheusHandler serves GET /metrics.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}
