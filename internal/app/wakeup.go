package app

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/cache"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/deployment"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// WakeupNotifier implements the wake-up hook (spec §4.6): after a job is
// admitted for a service with no recently-seen running machine, it asks
// the deployment provider to ensure a worker is up, debounced per
// (cluster, service) so a burst of admissions doesn't page the provider
// repeatedly. Has no teacher analog; built from the cache package's
// debounce primitive and the Provider boundary.
type WakeupNotifier struct {
	Machines     domain.MachineRepository
	Events       domain.EventSink
	Cache        *cache.Client
	Provider     deployment.Provider
	MinInterval  time.Duration
	LivenessWindow time.Duration
}

// Notify is fire-and-forget from the caller's perspective: it spawns no
// goroutine itself (the caller decides sync vs async) but never returns an
// error, since a wake-up failure must not fail admission.
func (w *WakeupNotifier) Notify(ctx domain.Context, clusterID, service string) {
	if w == nil || w.Provider == nil {
		return
	}
	tracer := otel.Tracer("app.wakeup")
	ctx, span := tracer.Start(ctx, "WakeupNotifier.Notify")
	defer span.End()
	span.SetAttributes(attribute.String("cluster.id", clusterID), attribute.String("service.name", service))

	liveness := w.LivenessWindow
	if liveness <= 0 {
		liveness = 30 * time.Second
	}
	if w.Machines != nil {
		if running, err := w.Machines.CountRunning(ctx, clusterID, service, liveness); err == nil && running > 0 {
			return
		}
	}

	window := w.MinInterval
	if window <= 0 {
		window = 10 * time.Second
	}
	if w.Cache != nil {
		allowed, err := w.Cache.TryDebounce(ctx, clusterID, service, window)
		if err == nil && !allowed {
			return
		}
	}

	if err := w.Provider.WakeUp(ctx, clusterID, service); err != nil {
		slog.Warn("wake-up provider call failed", slog.String("cluster_id", clusterID), slog.String("service", service), slog.Any("error", err))
		return
	}
	if w.Events != nil {
		_ = w.Events.Emit(ctx, domain.Event{ID: clusterID + ":" + service + ":wakeup", ClusterID: clusterID, Kind: domain.EventDeploymentNotify})
	}
}
