package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService handles data retention independent of any per-job cache-key
// TTL: terminal jobs and their audit events are purged once older than
// RetentionDays, regardless of whether their cache entry already expired.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes terminal jobs and all events older than the
// retention window.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedEvents int64
	row := tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM events WHERE created_at < $1 RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff)
	if err := row.Scan(&deletedEvents); err != nil {
		slog.Debug("no events to delete", slog.Any("error", err))
	}

	var deletedJobs int64
	row = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM jobs WHERE status IN ('success','failure') AND created_at < $1 RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff)
	if err := row.Scan(&deletedJobs); err != nil {
		slog.Debug("no jobs to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_jobs", deletedJobs),
		slog.Int64("deleted_events", deletedEvents),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic starts a periodic cleanup loop, running once immediately.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
