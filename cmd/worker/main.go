// Command worker runs a polling agent (spec §4.8) that claims jobs for one
// (cluster, service) pair from the control plane, executes them on a
// bounded-concurrency task queue, and posts results back.
package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/config"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	machineID := cfg.WorkerMachineID
	if machineID == "" {
		entropy := ulid.Monotonic(rand.Reader, 0)
		machineID = "machine-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}

	slog.Info("starting worker agent",
		slog.String("service", cfg.WorkerServiceName),
		slog.String("machine_id", machineID),
		slog.Bool("serverless", cfg.IsServerless()))

	registry := worker.NewRegistry()

	var deploymentRepo domain.DeploymentRepository
	var deploymentID string
	needsDB := cfg.DeploymentID != "" || cfg.WorkerServiceDefFile != ""
	if needsDB {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("db connect failed for worker bootstrap", slog.Any("error", err))
		} else {
			defer pool.Close()
			deploymentRepo = postgres.NewDeploymentRepo(pool)

			if cfg.WorkerServiceDefFile != "" {
				loadServiceDefinition(ctx, cfg, registry, postgres.NewServiceDefinitionRepo(pool))
			}

			if cfg.DeploymentID != "" {
				deploymentID, err = deploymentRepo.Create(ctx, domain.Deployment{
					ID:        cfg.DeploymentID,
					ClusterID: cfg.WorkerClusterID,
					Service:   cfg.WorkerServiceName,
					Provider:  cfg.DeploymentProvider,
					Status:    domain.DeploymentActive,
				})
				if err != nil {
					slog.Error("deployment registration failed", slog.Any("error", err))
				} else {
					slog.Info("deployment registered", slog.String("deployment_id", deploymentID))
				}
			}
		}
	}

	if len(registry.NamesForService(cfg.WorkerServiceName)) == 0 {
		registerDemoFunctions(registry, cfg.WorkerServiceName)
	}

	queue := worker.NewTaskQueue(cfg.WorkerConcurrency)

	maxIdle := 0
	if cfg.IsServerless() {
		maxIdle = 2
	}

	backoffInitial, backoffMax, backoffMultiplier := cfg.GetWorkerBackoffConfig()

	agent := &worker.Agent{
		BaseURL:           cfg.ControlPlaneURL,
		ClusterID:         cfg.WorkerClusterID,
		ClusterSecret:     cfg.WorkerClusterSecret,
		MachineID:         machineID,
		Service:           cfg.WorkerServiceName,
		Registry:          registry,
		Queue:             queue,
		PollThrottle:      cfg.WorkerPollThrottle,
		KeepaliveSeconds:  cfg.WorkerKeepaliveSeconds,
		MaxConsecutiveErr: cfg.WorkerMaxConsecutiveErr,
		ShutdownSpin:      cfg.WorkerShutdownSpin,
		MaxIdleCycles:     maxIdle,
		Backoff: domain.BackoffConfig{
			InitialInterval: backoffInitial,
			MaxInterval:     backoffMax,
			Multiplier:      backoffMultiplier,
		},
	}

	runDone := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(runDone)
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining worker agent")
	agent.Quit()
	<-runDone

	if deploymentRepo != nil && deploymentID != "" {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deploymentRepo.Release(releaseCtx, cfg.WorkerClusterID, deploymentID); err != nil {
			slog.Error("deployment release failed", slog.Any("error", err))
		}
	}
}

// registerDemoFunctions wires a minimal echo function so a freshly started
// worker has something claimable to execute end-to-end. Real deployments
// register their own functions in place of this.
func registerDemoFunctions(r *worker.Registry, service string) {
	_ = r.Register("echo", worker.Registration{
		Service:    service,
		Idempotent: true,
		Fn: func(targetArgs []byte) ([]byte, error) {
			return targetArgs, nil
		},
	})
}

// loadServiceDefinition reads the declared function list from
// cfg.WorkerServiceDefFile, registers each declared name against the echo
// handler (a stand-in for a real per-function implementation lookup), and
// upserts the definition so the control plane's rate/cache/retry metadata
// matches what this worker actually serves.
func loadServiceDefinition(ctx context.Context, cfg config.Config, r *worker.Registry, defs domain.ServiceDefinitionRepository) {
	def, err := worker.LoadServiceDefinitionFile(cfg.WorkerServiceDefFile)
	if err != nil {
		slog.Error("service definition file load failed", slog.Any("error", err))
		return
	}

	for _, fn := range def.Functions {
		name := fn.Name
		if err := r.Register(name, worker.Registration{
			Service:    def.Service,
			Idempotent: fn.Idempotent,
			MaxRetries: fn.RetryCountOnStall,
			Fn: func(targetArgs []byte) ([]byte, error) {
				return targetArgs, nil
			},
		}); err != nil {
			slog.Warn("service definition function registration skipped", slog.String("function", name), slog.Any("error", err))
		}
	}

	domainDef := def.ToDomain(cfg.WorkerClusterID)
	if err := defs.Upsert(ctx, domainDef); err != nil {
		slog.Error("service definition upsert failed", slog.Any("error", err))
	}
}
