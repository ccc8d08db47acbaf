// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// JobsAdmittedTotal counts jobs admitted by service and target function.
	JobsAdmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_admitted_total",
			Help: "Total number of jobs admitted",
		},
		[]string{"service", "target_fn"},
	)
	// JobsClaimedTotal counts jobs claimed by a worker poll.
	JobsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_claimed_total",
			Help: "Total number of jobs claimed by worker machines",
		},
		[]string{"service"},
	)
	// JobsResultedTotal counts results posted, by result type.
	JobsResultedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_resulted_total",
			Help: "Total number of job results posted",
		},
		[]string{"service", "result_type"},
	)
	// JobsStalledTotal counts stalled-job recoveries recorded via RecordJobStalled.
	JobsStalledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_stalled_total",
			Help: "Total number of jobs recovered from a stalled running state",
		},
		[]string{"outcome"}, // requeued | terminal
	)
	// JobsPending is a gauge of pending jobs per cluster, set via SetJobsPending.
	JobsPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_pending",
			Help: "Number of jobs pending dispatch, by cluster",
		},
		[]string{"cluster"},
	)

	// WakeupNotificationsTotal counts serverless wake-up notifications sent.
	WakeupNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakeup_notifications_total",
			Help: "Total number of serverless wake-up notifications sent",
		},
		[]string{"service", "outcome"}, // outcome: sent | debounced | skipped_live
	)

	// JobExecutionDuration records the reported worker execution time.
	JobExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_execution_duration_seconds",
			Help:    "Worker-reported job execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"service", "target_fn"},
	)

	// CircuitBreakerStatus tracks circuit breaker state for outbound calls
	// (e.g. a serverless wake-up provider).
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsAdmittedTotal)
	prometheus.MustRegister(JobsClaimedTotal)
	prometheus.MustRegister(JobsResultedTotal)
	prometheus.MustRegister(JobsStalledTotal)
	prometheus.MustRegister(JobsPending)
	prometheus.MustRegister(WakeupNotificationsTotal)
	prometheus.MustRegister(JobExecutionDuration)
	prometheus.MustRegister(CircuitBreakerStatus)
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
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordJobAdmitted increments the admitted counter for a service/target_fn pair.
func RecordJobAdmitted(service, targetFn string) {
	JobsAdmittedTotal.WithLabelValues(service, targetFn).Inc()
}

// RecordJobsClaimed increments the claimed counter by n for a service.
func RecordJobsClaimed(service string, n int) {
	if n <= 0 {
		return
	}
	JobsClaimedTotal.WithLabelValues(service).Add(float64(n))
}

// RecordJobResulted increments the resulted counter for a service/result_type pair.
func RecordJobResulted(service, resultType string) {
	JobsResultedTotal.WithLabelValues(service, resultType).Inc()
}

// RecordJobStalled increments the stalled counter for the given recovery outcome.
func RecordJobStalled(outcome string) {
	JobsStalledTotal.WithLabelValues(outcome).Inc()
}

// SetJobsPending sets the pending-jobs gauge for a cluster.
func SetJobsPending(cluster string, n int) {
	JobsPending.WithLabelValues(cluster).Set(float64(n))
}

// RecordWakeupNotification increments the wake-up counter for a service/outcome pair.
func RecordWakeupNotification(service, outcome string) {
	WakeupNotificationsTotal.WithLabelValues(service, outcome).Inc()
}

// ObserveJobExecution records a worker-reported execution duration in seconds.
func ObserveJobExecution(service, targetFn string, seconds float64) {
	if seconds < 0 {
		return
	}
	JobExecutionDuration.WithLabelValues(service, targetFn).Observe(seconds)
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
