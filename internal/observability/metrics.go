// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsReceived   *prometheus.CounterVec
	ValidationDrops  *prometheus.CounterVec
	ActivationsSeen  prometheus.Counter
	StreamReconnects prometheus.Counter
	StreamConnected  prometheus.Gauge
	LastLedgerIndex  prometheus.Gauge

	// Detection metrics
	TradesClassified *prometheus.CounterVec
	WindowPairs      prometheus.Gauge
	WindowSwept      prometheus.Counter
	RegistryLinks    prometheus.Gauge
	ClassifyLatency  prometheus.Histogram

	// Dispatch metrics
	DispatchQueueDepth prometheus.Gauge
	DispatchDropped    *prometheus.CounterVec
	SinkCalls          *prometheus.CounterVec
	SinkRetries        *prometheus.CounterVec
	SinkLatency        *prometheus.HistogramVec

	// Health metrics
	LastClassification prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "xrpl_wash_monitor"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_received_total",
			Help:      "Raw transaction events received by source",
		}, []string{"source"}),
		ValidationDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "validation_drops_total",
			Help:      "Events dropped by the normalizer by missing or malformed field",
		}, []string{"field"}),
		ActivationsSeen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "activations_total",
			Help:      "Account activations registered",
		}),
		StreamReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Websocket reconnect attempts",
		}),
		StreamConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 while the ledger stream is connected",
		}),
		LastLedgerIndex: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "last_ledger_index",
			Help:      "Highest ledger index seen on the stream",
		}),

		// Detection metrics
		TradesClassified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "trades_classified_total",
			Help:      "Trades classified by label and rule",
		}, []string{"label", "rule"}),
		WindowPairs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "window_pairs",
			Help:      "Live account pairs in the rolling window",
		}),
		WindowSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "window_swept_total",
			Help:      "Idle account pairs reclaimed by the sweeper",
		}),
		RegistryLinks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "registry_links",
			Help:      "Known parent-child account links",
		}),
		ClassifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "classify_latency_seconds",
			Help:      "Time from window update to classification",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),

		// Dispatch metrics
		DispatchQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the dispatcher queue",
		}),
		DispatchDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Jobs dropped by reason (queue_full, dead_letter, shutdown)",
		}, []string{"reason"}),
		SinkCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "sink_calls_total",
			Help:      "Sink calls by sink and status",
		}, []string{"sink", "status"}),
		SinkRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "sink_retries_total",
			Help:      "Sink retries by sink",
		}, []string{"sink"}),
		SinkLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "sink_latency_seconds",
			Help:      "Sink call latency including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),

		// Health metrics
		LastClassification: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_classification_timestamp",
			Help:      "Unix timestamp of the last classified trade",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordEventReceived increments the received counter for source.
func RecordEventReceived(source string) {
	DefaultMetrics.EventsReceived.WithLabelValues(source).Inc()
}

// RecordValidationDrop counts an event the normalizer rejected.
func RecordValidationDrop(field string) {
	DefaultMetrics.ValidationDrops.WithLabelValues(field).Inc()
}

// RecordActivation counts a newly registered account activation.
func RecordActivation() {
	DefaultMetrics.ActivationsSeen.Inc()
}

// RecordReconnect counts a stream reconnect attempt.
func RecordReconnect() {
	DefaultMetrics.StreamReconnects.Inc()
}

// SetStreamConnected flips the connected gauge.
func SetStreamConnected(connected bool) {
	if connected {
		DefaultMetrics.StreamConnected.Set(1)
		return
	}
	DefaultMetrics.StreamConnected.Set(0)
}

// UpdateLedgerIndex raises the last ledger gauge.
func UpdateLedgerIndex(idx int64) {
	DefaultMetrics.LastLedgerIndex.Set(float64(idx))
}

// RecordClassification counts a classified trade.
func RecordClassification(label, rule string, latencySeconds float64, unixNow int64) {
	DefaultMetrics.TradesClassified.WithLabelValues(label, rule).Inc()
	DefaultMetrics.ClassifyLatency.Observe(latencySeconds)
	DefaultMetrics.LastClassification.Set(float64(unixNow))
}

// UpdateDetectionState refreshes the window and registry gauges.
func UpdateDetectionState(pairs, links int) {
	DefaultMetrics.WindowPairs.Set(float64(pairs))
	DefaultMetrics.RegistryLinks.Set(float64(links))
}

// RecordSwept counts pairs reclaimed by the sweeper.
func RecordSwept(n int) {
	DefaultMetrics.WindowSwept.Add(float64(n))
}

// UpdateQueueDepth sets the dispatcher queue gauge.
func UpdateQueueDepth(n int) {
	DefaultMetrics.DispatchQueueDepth.Set(float64(n))
}

// RecordDispatchDrop counts a job the dispatcher gave up on.
func RecordDispatchDrop(reason string) {
	DefaultMetrics.DispatchDropped.WithLabelValues(reason).Inc()
}

// RecordSinkCall records the outcome and latency of one sink call.
func RecordSinkCall(sink string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.SinkCalls.WithLabelValues(sink, status).Inc()
	DefaultMetrics.SinkLatency.WithLabelValues(sink).Observe(seconds)
}

// RecordSinkRetry counts a retry against sink.
func RecordSinkRetry(sink string) {
	DefaultMetrics.SinkRetries.WithLabelValues(sink).Inc()
}
