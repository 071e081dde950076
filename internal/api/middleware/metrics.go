package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Business metrics, exported for use by the allocator, wait queue and releaser
	AllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_allocator_allocations_total",
			Help: "Total allocation outcomes by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	AllocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_allocator_allocation_duration_seconds",
			Help:    "Time spent in Allocate by outcome",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"outcome"},
	)

	AssignmentScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_allocator_assignment_score",
			Help:    "Total score of the selected agent",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	CapacityRacesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_allocator_capacity_races_total",
			Help: "Commits that lost the compare-and-increment race",
		},
	)

	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_allocator_rollbacks_total",
			Help: "Load increments rolled back after session creation failed",
		},
		[]string{"status"},
	)

	TenantViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_allocator_tenant_violations_total",
			Help: "Agents returned by the staff store for a different tenant",
		},
		[]string{"tenant"},
	)

	PreprocessFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_allocator_preprocess_fallbacks_total",
			Help: "Classifier calls that degraded to defaults",
		},
		[]string{"stage"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_allocator_queue_depth",
			Help: "Queued requests per tenant as of the last retry pass",
		},
		[]string{"tenant"},
	)

	QueueRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_allocator_queue_retries_total",
			Help: "Retry attempts on queued requests by result",
		},
		[]string{"result"},
	)

	ReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_allocator_releases_total",
			Help: "Total agent load releases by status",
		},
		[]string{"status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_allocator_notifications_total",
			Help: "Assignment notifications by backend and status",
		},
		[]string{"backend", "status"},
	)

	LeaderStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_allocator_leader_status",
			Help: "Whether this instance is the leader (1) or not (0)",
		},
	)

	PanicsRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_allocator_panics_recovered_total",
			Help: "Total number of recovered panics",
		},
	)
)

// Metrics returns a middleware that collects Prometheus metrics
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		status := strconv.Itoa(wrapped.statusCode)

		// Use Chi route pattern to avoid cardinality explosion from dynamic path segments
		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		// Normalize trailing slashes
		endpoint = strings.TrimRight(endpoint, "/")
		if endpoint == "" {
			endpoint = "/"
		}

		// Record metrics
		requestDuration.WithLabelValues(r.Method, endpoint, status).Observe(duration.Seconds())
		requestCount.WithLabelValues(r.Method, endpoint, status).Inc()
	})
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
