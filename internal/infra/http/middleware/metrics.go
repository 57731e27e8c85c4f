package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Number of active HTTP connections",
		},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_jobs_total",
			Help: "Queue job executions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	emailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_emails_total",
			Help: "Campaign email send attempts by status",
		},
		[]string{"status"},
	)

	crmErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_crm_errors_total",
			Help: "Failed CRM calls by operation",
		},
		[]string{"operation"},
	)

	webhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_webhooks_total",
			Help: "Inbound CRM webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		activeConnections.Inc()
		defer activeConnections.Dec()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route ("/leads/{id}/campaign") so lead ids do
// not become label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// RecordJob matches the queue observer signature.
func RecordJob(kind, outcome string) {
	jobsTotal.WithLabelValues(kind, outcome).Inc()
}

// Recorder forwards use case counters to Prometheus.
type Recorder struct{}

func (Recorder) EmailAttempt(status string) {
	emailsTotal.WithLabelValues(status).Inc()
}

func (Recorder) CRMError(operation string) {
	crmErrors.WithLabelValues(operation).Inc()
}

func (Recorder) WebhookEvent(eventType, outcome string) {
	webhooksTotal.WithLabelValues(eventType, outcome).Inc()
}
