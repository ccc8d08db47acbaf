// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/config"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// ReadinessChecks names the probes ReadyzHandler runs.
type ReadinessChecks struct {
	DB    func(ctx context.Context) error
	Redis func(ctx context.Context) error
}

// BuildRouter constructs the control plane's HTTP handler with all
// middleware and routes: admission, worker dispatch, result posting, and
// status (spec §4, §6).
func BuildRouter(cfg config.Config, srv *httpserver.Server, clusters domain.ClusterRepository, checks ReadinessChecks) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Cluster-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Liveness/readiness and metrics are unauthenticated.
	r.Get("/healthz", httpserver.HealthzHandler())
	r.Get("/health", httpserver.HealthzHandler())
	r.Get("/readyz", httpserver.ReadyzHandler(map[string]func(context.Context) error{
		"postgres": checks.DB,
		"redis":    checks.Redis,
	}))
	r.Handle("/metrics", promhttp.Handler())

	// Job lifecycle endpoints require the cluster bearer-secret contract
	// (spec §6) and are rate-limited per client IP.
	r.Group(func(cr chi.Router) {
		cr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		cr.Use(httpserver.ClusterAuth(clusters))

		cr.Post("/v1/jobs", srv.CreateJobHandler())
		cr.Post("/v1/jobs/next", srv.NextJobsHandler())
		cr.Post("/v1/jobs/{id}/result", srv.PostResultHandler())
		cr.Get("/v1/jobs/status", srv.GetStatusesHandler())
		cr.Get("/v1/clusters/{id}/jobs", srv.ListJobsHandler())
	})

	return httpserver.SecurityHeaders(r)
}
