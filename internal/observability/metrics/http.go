package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadsTotal      *prometheus.CounterVec
	uploadBytes       *prometheus.HistogramVec
	webhooksTotal     *prometheus.CounterVec
	authIssuedTotal   *prometheus.CounterVec
	authRevokedTotal  *prometheus.CounterVec
	authRejectedTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mca",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mca",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "documents",
			Name:      "uploads_total",
			Help:      "Total accepted document uploads by type.",
		},
		[]string{"service", "document_type"},
	)
	uploadBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mca",
			Subsystem: "documents",
			Name:      "upload_bytes",
			Help:      "Distribution of accepted upload sizes in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"service"},
	)
	webhooksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "webhooks",
			Name:      "registrations_total",
			Help:      "Total webhook registrations by event and result.",
		},
		[]string{"service", "event", "result"},
	)
	authIssuedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Total access tokens issued.",
		},
		[]string{"service"},
	)
	authRevokedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "auth",
			Name:      "tokens_revoked_total",
			Help:      "Total access tokens revoked.",
		},
		[]string{"service"},
	)
	authRejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mca",
			Subsystem: "auth",
			Name:      "requests_rejected_total",
			Help:      "Total requests rejected by authentication, by reason.",
		},
		[]string{"service", "reason"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		uploadBytes,
		webhooksTotal,
		authIssuedTotal,
		authRevokedTotal,
		authRejectedTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		uploadsTotal:      uploadsTotal,
		uploadBytes:       uploadBytes,
		webhooksTotal:     webhooksTotal,
		authIssuedTotal:   authIssuedTotal,
		authRevokedTotal:  authRevokedTotal,
		authRejectedTotal: authRejectedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses entity IDs so path labels stay low-cardinality.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		if strings.HasSuffix(path, "/status") {
			return "/v1/documents/{document_id}/status"
		}
		return "/v1/documents/{document_id}"
	case strings.HasPrefix(path, "/v1/webhooks/"):
		return "/v1/webhooks/{webhook_id}"
	case strings.HasPrefix(path, "/v1/emails/"):
		if path == "/v1/emails/inbound" {
			return path
		}
		return "/v1/emails/{email_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordUpload(service, documentType string, sizeBytes int64) {
	m.uploadsTotal.WithLabelValues(service, documentType).Inc()
	m.uploadBytes.WithLabelValues(service).Observe(float64(sizeBytes))
}

func (m *HTTPServerMetrics) RecordWebhookRegistration(service, event, result string) {
	m.webhooksTotal.WithLabelValues(service, event, result).Inc()
}

func (m *HTTPServerMetrics) RecordTokenIssued(service string) {
	m.authIssuedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordTokenRevoked(service string) {
	m.authRevokedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordAuthRejection(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.authRejectedTotal.WithLabelValues(service, reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
