// Package metrics registers the prometheus collectors scraped by the admin
// HTTP server's /metrics endpoint: queue depth and in-flight occupancy per
// device, transcode pool occupancy, dispatcher tick duration, journal write
// latency, and a shutdown-request counter.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tvcaptd"

// Counters and histograms exposed on /metrics. No package in this module
// updates DispatcherTickDuration, JournalWriteDuration or
// ShutdownRequestsTotal, so those report zero. Per-device
// gauges are exposed separately via Collector, since their values must be
// read live from the scheduler at scrape time rather than pushed.
var (
	DispatcherTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatcher_tick_duration_seconds",
		Help:      "Time spent evaluating one dispatcher tick.",
		Buckets:   prometheus.DefBuckets,
	})

	JournalWriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "journal_write_duration_seconds",
		Help:      "Time spent writing the journal file to disk.",
		Buckets:   prometheus.DefBuckets,
	})

	ShutdownRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shutdown_requests_total",
		Help:      "Total shutdown requests issued by the power controller.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total admin HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Admin HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})
)

func init() {
	prometheus.MustRegister(
		DispatcherTickDuration,
		JournalWriteDuration,
		ShutdownRequestsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// InstrumentHandler returns middleware that records request count and
// latency, labeled by chi's route pattern to avoid cardinality explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unknown"
		}
		method := r.Method
		status := strconv.Itoa(sw.status)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
