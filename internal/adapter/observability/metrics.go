package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	UpstreamFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_failures_total",
			Help: "Total upstream call failures by dependency and operation",
		},
		[]string{"dependency", "operation"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI gateway requests by operation",
		},
		[]string{"operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI gateway request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	IngestSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_submissions_total",
			Help: "Total submissions processed by pass 1, by outcome",
		},
		[]string{"source_app", "outcome"},
	)
	OplogClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oplog_rows_claimed_total",
			Help: "Total oplog rows claimed by pass 2 workers",
		},
	)
	OplogCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oplog_rows_finished_total",
			Help: "Total oplog rows finished, by terminal status",
		},
		[]string{"status"},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total search requests by sort mode",
		},
		[]string{"sort_by"},
	)
	RerankDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_rerank_degraded_total",
			Help: "Searches served without reranking due to an open circuit",
		},
	)

	HighlightJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_jobs_total",
			Help: "Total highlight jobs by outcome",
		},
		[]string{"outcome"},
	)
	HighlightClipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "highlight_clips_total",
			Help: "Total clips extracted across all jobs",
		},
	)
	GovernanceCPUUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "governance_cpu_percent",
			Help: "Last sampled process CPU percentage",
		},
	)
	GovernanceMemoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "governance_memory_mb",
			Help: "Last sampled RSS in megabytes",
		},
	)
	GovernanceThrottleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "governance_throttle_total",
			Help: "Times the pipeline paused for resource limits",
		},
	)
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(UpstreamFailuresTotal)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(IngestSubmissionsTotal)
	prometheus.MustRegister(OplogClaimedTotal)
	prometheus.MustRegister(OplogCompletedTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(RerankDegradedTotal)
	prometheus.MustRegister(HighlightJobsTotal)
	prometheus.MustRegister(HighlightClipsTotal)
	prometheus.MustRegister(GovernanceCPUUsage)
	prometheus.MustRegister(GovernanceMemoryUsage)
	prometheus.MustRegister(GovernanceThrottleTotal)
}

// UpstreamFailure increments the labeled failure counter.
func UpstreamFailure(dependency, operation string) {
	UpstreamFailuresTotal.WithLabelValues(dependency, operation).Inc()
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
