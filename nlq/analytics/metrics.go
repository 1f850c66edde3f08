package analytics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports query pipeline metrics in Prometheus format.
type Metrics struct {
	registry *prometheus.Registry

	queries      *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec
	feedback     *prometheus.CounterVec
	dropped      prometheus.Counter
}

// NewMetrics creates and registers the pipeline metrics. A nil registry
// creates a private one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	m.queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of answered queries",
		},
		[]string{"path", "status"},
	)

	m.queryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardsense",
			Subsystem: "query",
			Name:      "latency_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"path"},
	)

	m.feedback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Subsystem: "feedback",
			Name:      "signals_total",
			Help:      "Total feedback signals by polarity and source",
		},
		[]string{"signal", "source"},
	)

	m.dropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Subsystem: "analytics",
			Name:      "events_dropped_total",
			Help:      "Analytics events dropped due to a full queue",
		},
	)

	registry.MustRegister(m.queries, m.queryLatency, m.feedback, m.dropped)
	return m
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeQuery(path string, success bool, latency time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.queries.WithLabelValues(path, status).Inc()
	m.queryLatency.WithLabelValues(path).Observe(latency.Seconds())
}

func (m *Metrics) observeFeedback(positive bool, source string) {
	signal := "negative"
	if positive {
		signal = "positive"
	}
	m.feedback.WithLabelValues(signal, source).Inc()
}

func (m *Metrics) observeDrop() {
	m.dropped.Inc()
}
