package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	confidenceScore *prometheus.HistogramVec
	queueLag        *prometheus.HistogramVec

	deliveryTotal    *prometheus.CounterVec
	deliveryAttempts *prometheus.HistogramVec
	emailSendTotal   *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total document processing attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mca",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "outcome"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mca",
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of in-flight document processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	confidenceScore := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mca",
			Subsystem: "worker",
			Name:      "confidence_score",
			Help:      "Distribution of computed OCR confidence scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
		[]string{"service", "status"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mca",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between document upload and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	deliveryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "webhooks",
			Name:      "delivery_total",
			Help:      "Total webhook delivery attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	deliveryAttempts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mca",
			Subsystem: "webhooks",
			Name:      "delivery_attempts",
			Help:      "Attempts consumed before a webhook reached a final state.",
			Buckets:   []float64{1, 2, 3, 4},
		},
		[]string{"service", "final_state"},
	)
	emailSendTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "emails",
			Name:      "send_total",
			Help:      "Total outbound email attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		confidenceScore,
		queueLag,
		deliveryTotal,
		deliveryAttempts,
		emailSendTotal,
	)

	return &WorkerMetrics{
		registry:         registry,
		processTotal:     processTotal,
		processDuration:  processDuration,
		processInFlight:  processInFlight,
		confidenceScore:  confidenceScore,
		queueLag:         queueLag,
		deliveryTotal:    deliveryTotal,
		deliveryAttempts: deliveryAttempts,
		emailSendTotal:   emailSendTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service, outcome string, duration time.Duration) {
	m.processInFlight.Dec()
	m.processTotal.WithLabelValues(service, outcome).Inc()
	m.processDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveConfidence(service, status string, score float64) {
	m.confidenceScore.WithLabelValues(service, status).Observe(score)
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordDelivery(service, outcome string) {
	m.deliveryTotal.WithLabelValues(service, outcome).Inc()
}

func (m *WorkerMetrics) RecordDeliveryFinal(service, finalState string, attempts int) {
	m.deliveryAttempts.WithLabelValues(service, finalState).Observe(float64(attempts))
}

func (m *WorkerMetrics) RecordEmailSend(service, outcome string) {
	m.emailSendTotal.WithLabelValues(service, outcome).Inc()
}
