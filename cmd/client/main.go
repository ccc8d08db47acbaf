// Command client is an example caller process: it submits a job to the
// control plane and blocks until it resolves, demonstrating the
// internal/client SDK (spec §4.9, §9).
package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/client"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := client.NewPoller(cfg.ControlPlaneURL, cfg.WorkerClusterID, cfg.WorkerClusterSecret)
	if cfg.ResultsPollerTickInterval > 0 {
		poller.Tick = cfg.ResultsPollerTickInterval
	}
	go poller.Run(ctx)
	defer poller.Stop()

	svc := client.NewService(cfg.WorkerServiceName, cfg.ControlPlaneURL, cfg.WorkerClusterID, cfg.WorkerClusterSecret, poller)

	entropy := ulid.Monotonic(rand.Reader, 0)
	idempotencyKey := ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()

	slog.Info("submitting job", slog.String("service", cfg.WorkerServiceName), slog.String("function", "echo"))

	res, err := svc.Call(ctx, "echo", []byte(`{"hello":"world"}`), idempotencyKey, client.CallOptions{})
	if err != nil {
		slog.Error("call failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("call resolved", slog.String("result_type", string(res.ResultType)), slog.String("result", string(res.Result)))
}
