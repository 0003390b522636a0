package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics exposes queue consumer metrics in Prometheus format
type WorkerMetrics struct {
	registry *prometheus.Registry

	messagesTotal   *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	queueLag        *prometheus.HistogramVec
}

// NewWorkerMetrics creates the metrics for a worker consuming from source
func NewWorkerMetrics(source string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitephoto",
			Subsystem: "worker",
			Name:      "messages_total",
			Help:      "Photo ingestion messages handled by outcome.",
		},
		[]string{"source", "outcome"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sitephoto",
			Subsystem: "worker",
			Name:      "process_duration_seconds",
			Help:      "Message processing duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source", "outcome"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sitephoto",
			Subsystem: "worker",
			Name:      "messages_in_flight",
			Help:      "Number of messages currently being ingested.",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sitephoto",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between message publish and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	registry.MustRegister(messagesTotal, processDuration, inFlight, queueLag)

	return &WorkerMetrics{
		registry:        registry,
		messagesTotal:   messagesTotal,
		processDuration: processDuration,
		inFlight:        inFlight,
		queueLag:        queueLag,
	}
}

// Handler serves the registry for scraping
func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartMessage() {
	m.inFlight.Inc()
}

// FinishMessage records a handled message. outcome is one of "ack",
// "rejected" or "retry".
func (m *WorkerMetrics) FinishMessage(source, outcome string, duration time.Duration) {
	m.inFlight.Dec()
	m.messagesTotal.WithLabelValues(source, outcome).Inc()
	m.processDuration.WithLabelValues(source, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(source string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(source).Observe(lag.Seconds())
}
