// Package metrics exposes dispatch and HTTP metrics in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// Metrics holds Prometheus metrics collectors. It implements
// sending.Observer.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal        *prometheus.CounterVec
	batchesTotal     *prometheus.CounterVec
	recipientsTotal  *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	activeJobs       prometheus.Gauge
	quotaMax24h      prometheus.Gauge
	quotaSent24h     prometheus.Gauge
	quotaMaxRate     prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	mu      sync.Mutex
	started map[string]time.Time
}

// New creates the collectors and registers them on a private registry
// together with the Go and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ses_sender"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started:  make(map[string]time.Time),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Send jobs finished, by final status",
			},
			[]string{"status"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batches dispatched, by result",
			},
			[]string{"result"},
		),
		recipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipients_total",
				Help:      "Provider calls, by outcome",
			},
			[]string{"outcome"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time of a send job including inter-batch delays",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_active",
				Help:      "Send jobs currently dispatching",
			},
		),
		quotaMax24h: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ses_quota_max_24h",
				Help:      "SES 24 hour sending quota (-1 is unlimited)",
			},
		),
		quotaSent24h: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ses_quota_sent_24h",
				Help:      "Messages sent in the last 24 hours as reported by SES",
			},
		),
		quotaMaxRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ses_quota_max_send_rate",
				Help:      "SES maximum send rate per second",
			},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.batchesTotal,
		m.recipientsTotal,
		m.jobDuration,
		m.activeJobs,
		m.quotaMax24h,
		m.quotaSent24h,
		m.quotaMaxRate,
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
	)
	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobStarted marks a job active.
func (m *Metrics) JobStarted(_ context.Context, job *domain.SendJob) error {
	m.mu.Lock()
	m.started[job.ID] = time.Now()
	m.mu.Unlock()
	m.activeJobs.Inc()
	return nil
}

// BatchFinished counts the batch and its recipient outcomes.
func (m *Metrics) BatchFinished(_ context.Context, _ *domain.SendJob, result domain.BatchResult, _ []domain.RecipientOutcome) error {
	label := "complete"
	if result.Sent == 0 && result.Failed > 0 {
		label = "error"
	}
	m.batchesTotal.WithLabelValues(label).Inc()
	m.recipientsTotal.WithLabelValues(string(domain.OutcomeSent)).Add(float64(result.Sent))
	m.recipientsTotal.WithLabelValues(string(domain.OutcomeFailed)).Add(float64(result.Failed))
	return nil
}

// JobFinished counts the job by final status and records its duration.
func (m *Metrics) JobFinished(_ context.Context, job *domain.SendJob, state domain.DispatchState) error {
	m.jobsTotal.WithLabelValues(string(state.Status)).Inc()

	m.mu.Lock()
	start, ok := m.started[job.ID]
	delete(m.started, job.ID)
	m.mu.Unlock()
	if ok {
		m.activeJobs.Dec()
		m.jobDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// SetQuota publishes the latest SES account quota.
func (m *Metrics) SetQuota(max24h, sent24h, maxRate float64) {
	m.quotaMax24h.Set(max24h)
	m.quotaSent24h.Set(sent24h)
	m.quotaMaxRate.Set(maxRate)
}

// Middleware returns an HTTP middleware that records request metrics. The
// path label is the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		path := routePattern(r)
		m.requestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// routePattern keeps label cardinality bounded by using the matched route
// instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
