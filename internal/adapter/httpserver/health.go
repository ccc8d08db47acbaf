package httpserver

import (
	"context"
	"net/http"
	"time"
)

type healthCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthzHandler is a liveness probe: it always reports ok once the process
// is serving requests.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler is a readiness probe running the given checks (typically
// Postgres and Redis pings) with a bounded timeout per check.
func ReadyzHandler(checks map[string]func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := make([]healthCheck, 0, len(checks))
		allOK := true
		for name, check := range checks {
			if check == nil {
				continue
			}
			hc := healthCheck{Name: name, Status: "ok"}
			if err := check(ctx); err != nil {
				hc.Status = "fail"
				hc.Error = err.Error()
				allOK = false
			}
			results = append(results, hc)
		}

		status := http.StatusOK
		if !allOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"status": map[bool]string{true: "ok", false: "degraded"}[allOK],
			"checks": results,
		})
	}
}
