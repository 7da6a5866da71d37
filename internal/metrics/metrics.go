// Package metrics exposes Prometheus instrumentation for the sync runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobRunsTotal counts scheduler job executions by terminal status.
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datapilot_job_runs_total",
		Help: "Scheduled job executions by job name and terminal status.",
	}, []string{"job", "status"})

	// JobDurationSeconds tracks wall-clock job duration.
	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datapilot_job_duration_seconds",
		Help:    "Scheduled job execution duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"job"})

	// UpstreamRequestsTotal counts Gerpgo API requests by endpoint and
	// HTTP status.
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datapilot_upstream_requests_total",
		Help: "Upstream API requests by endpoint and HTTP status code.",
	}, []string{"endpoint", "code"})

	// UpstreamRetriesTotal counts retry waits by classified reason.
	UpstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datapilot_upstream_retries_total",
		Help: "Upstream API retries by endpoint and reason.",
	}, []string{"endpoint", "reason"})
)

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
