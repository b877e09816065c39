package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Store metrics
	StoreOpsTotal         *prometheus.CounterVec
	StoreOpDuration       *prometheus.HistogramVec
	ChangesPublishedTotal *prometheus.CounterVec

	// Sync metrics
	SessionsActive     prometheus.Gauge
	FileSavesTotal     *prometheus.CounterVec
	ChatMessagesTotal  prometheus.Counter
	FeedRefetchesTotal *prometheus.CounterVec
	PresenceBeatsTotal prometheus.Counter
}

// New creates a Metrics instance registered against reg. A nil reg uses
// the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "workspace"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Store metrics
		StoreOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"collection", "operation", "status"},
		),
		StoreOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"collection", "operation"},
		),
		ChangesPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "changes_published_total",
				Help:      "Total number of change-feed events published",
			},
			[]string{"collection", "type"},
		),

		// Sync metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "sessions_active",
				Help:      "Number of open editing sessions",
			},
		),
		FileSavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "file_saves_total",
				Help:      "Total number of debounced file content persists",
			},
			[]string{"status"},
		),
		ChatMessagesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "chat_messages_total",
				Help:      "Total number of chat messages sent",
			},
		),
		FeedRefetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "feed_refetches_total",
				Help:      "Total number of full refetches triggered by change notifications",
			},
			[]string{"collection"},
		),
		PresenceBeatsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "presence_beats_total",
				Help:      "Total number of presence heartbeats written",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStoreOp records one store operation.
func (m *Metrics) RecordStoreOp(collection, operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOpsTotal.WithLabelValues(collection, operation, status).Inc()
	m.StoreOpDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
}

// RecordChangePublished records one change-feed publication.
func (m *Metrics) RecordChangePublished(collection, changeType string) {
	m.ChangesPublishedTotal.WithLabelValues(collection, changeType).Inc()
}

// RecordFileSave records one debounced content persist.
func (m *Metrics) RecordFileSave(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.FileSavesTotal.WithLabelValues(status).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
