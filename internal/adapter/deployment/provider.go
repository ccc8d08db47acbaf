// Package deployment defines the external-collaborator boundary for
// packaging and waking worker deployments (spec §6). Actual provisioning
// (building a Lambda package, calling a cloud SDK) is explicitly a
// non-goal; this package only defines the interface and a logging stub so
// the rest of the control plane can depend on an abstraction.
package deployment

import (
	"context"
	"log/slog"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/config"
)

// Provider is the boundary to whatever hosts a cluster's worker processes:
// a serverless platform, a container orchestrator, or a fixed pool of
// long-running machines. The control plane never assumes a specific
// provider; it only calls WakeUp when it believes no worker is currently
// polling for a service.
type Provider interface {
	// WakeUp asks the provider to ensure at least one worker instance for
	// (clusterID, service) is running, e.g. by invoking a serverless
	// function or scaling a deployment to 1. Implementations should treat
	// this as best-effort: a failure here must never block job admission.
	WakeUp(ctx context.Context, clusterID, service string) error
}

// NoopProvider logs the wake-up intent without contacting anything,
// suitable for clusters whose workers are always-on long-running
// processes that don't need cold-start assistance.
type NoopProvider struct{}

// WakeUp implements Provider.
func (NoopProvider) WakeUp(_ context.Context, clusterID, service string) error {
	slog.Debug("wake-up provider is noop; assuming workers are always-on",
		slog.String("cluster_id", clusterID), slog.String("service", service))
	return nil
}

// NewProviderFromConfig selects a Provider implementation based on the
// configured serverless deployment provider name (spec §6). Only the noop,
// always-on provider is implemented; naming a real provider here is a
// placement for a future cloud-SDK-backed implementation, which this spec
// treats as an external collaborator rather than something to build.
func NewProviderFromConfig(cfg config.Config) Provider {
	if !cfg.IsServerless() {
		return NoopProvider{}
	}
	slog.Warn("serverless deployment provider configured but no concrete implementation is wired; falling back to noop",
		slog.String("provider", cfg.DeploymentProvider))
	return NoopProvider{}
}
