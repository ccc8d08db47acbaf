// Command controlplane starts the job-engine control plane HTTP server:
// admission, worker dispatch, result intake, status reads, the
// self-healer, and the serverless wake-up notifier.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/cache"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/deployment"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/app"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/config"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	postgres.SetDefaultTimeoutSeconds(cfg.DefaultJobTimeoutSeconds)

	jobRepo := postgres.NewJobRepo(pool)
	machineRepo := postgres.NewMachineRepo(pool)
	serviceDefRepo := postgres.NewServiceDefinitionRepo(pool)
	eventRepo := postgres.NewEventRepo(pool)
	clusterRepo := postgres.NewClusterRepo(pool)

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	wakeupNotifier := &app.WakeupNotifier{
		Machines:       machineRepo,
		Events:         eventRepo,
		Cache:          redisClient,
		Provider:       deployment.NewProviderFromConfig(cfg),
		MinInterval:    time.Duration(cfg.WakeupMinIntervalSeconds) * time.Second,
		LivenessWindow: 30 * time.Second,
	}

	admissionSvc := &usecase.AdmissionService{
		Jobs:                   jobRepo,
		ServiceDefs:            serviceDefRepo,
		Events:                 eventRepo,
		Cache:                  redisClient,
		Wakeup:                 wakeupNotifier,
		DefaultRetry:           cfg.DefaultRetryCountOnStall,
		DefaultCacheTTLSeconds: cfg.DefaultCacheTTLSeconds,
	}
	dispatchSvc := &usecase.DispatchService{
		Jobs:     jobRepo,
		Machines: machineRepo,
		Events:   eventRepo,
	}
	resultSinkSvc := &usecase.ResultSinkService{
		Jobs:  jobRepo,
		Cache: redisClient,
	}
	statusSvc := &usecase.StatusService{
		Jobs:      jobRepo,
		Events:    eventRepo,
		RateLimit: redisClient,
		RateLimitConfig: cache.BucketConfig{
			Capacity:   int64(cfg.StatusPollPerMinute),
			RefillRate: float64(cfg.StatusPollPerMinute) / 60.0,
		},
	}

	selfHealer := app.NewSelfHealer(jobRepo, eventRepo, cfg.SelfHealerInterval, cfg.SelfHealerPageSize)
	healerCtx, cancelHealer := context.WithCancel(ctx)
	defer cancelHealer()
	if selfHealer != nil {
		go selfHealer.Run(healerCtx)
	}

	srv := &httpserver.Server{
		Admission:  admissionSvc,
		Dispatch:   dispatchSvc,
		ResultSink: resultSinkSvc,
		Status:     statusSvc,
		Clusters:   clusterRepo,
		Jobs:       jobRepo,
	}

	handler := app.BuildRouter(cfg, srv, clusterRepo, app.ReadinessChecks{
		DB:    pool.Ping,
		Redis: redisClient.Ping,
	})

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("control plane http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	cancelHealer()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
