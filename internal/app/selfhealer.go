package app

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

var selfHealerEntropy = ulid.Monotonic(rand.Reader, 0)

func newEventID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), selfHealerEntropy).String()
}

// SelfHealer periodically scans for running jobs whose last poll exceeded
// their timeout and either requeues them (attempts remain) or marks them
// terminally stalled (attempts exhausted), per spec §4.5. Grounded on
// internal/app/stuck_jobs.go's StuckJobSweeper, generalized from a single
// "mark failed" transition to the requeue-or-terminate branch the spec
// requires.
type SelfHealer struct {
	jobs     domain.JobRepository
	events   domain.EventSink
	interval time.Duration
	pageSize int
}

// NewSelfHealer constructs a SelfHealer; returns nil if jobs is nil so
// callers can unconditionally call Run on the result. events is optional;
// a nil sink simply means stall events are not recorded.
func NewSelfHealer(jobs domain.JobRepository, events domain.EventSink, interval time.Duration, pageSize int) *SelfHealer {
	if jobs == nil {
		return nil
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &SelfHealer{jobs: jobs, events: events, interval: interval, pageSize: pageSize}
}

// Run blocks, sweeping on a ticker until ctx is cancelled.
func (s *SelfHealer) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("self-healer stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *SelfHealer) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.selfhealer")
	ctx, span := tracer.Start(ctx, "SelfHealer.sweepOnce")
	defer span.End()

	totalChecked, totalRequeued, totalTerminated := 0, 0, 0

	for offset := 0; ; offset += s.pageSize {
		pageCtx, pageSpan := tracer.Start(ctx, "SelfHealer.sweepPage")
		pageSpan.SetAttributes(attribute.Int("jobs.offset", offset))

		jobs, err := s.jobs.ListStalledRunning(pageCtx, offset, s.pageSize)
		if err != nil {
			pageSpan.RecordError(err)
			pageSpan.End()
			slog.Error("self-healer failed to list stalled jobs", slog.Any("error", err))
			return
		}
		totalChecked += len(jobs)
		if len(jobs) == 0 {
			pageSpan.End()
			break
		}

		for _, j := range jobs {
			jobCtx, jobSpan := tracer.Start(pageCtx, "SelfHealer.heal")
			jobSpan.SetAttributes(attribute.String("job.id", j.ID), attribute.Int("job.remaining_attempts", j.RemainingAttempts))

			jobID, clusterID := j.ID, j.ClusterID
			var healErr error
			if j.RemainingAttempts > 0 {
				healErr = s.jobs.Requeue(jobCtx, j.ID)
				if healErr == nil {
					totalRequeued++
					s.emit(jobCtx, domain.EventJobStalled, clusterID, jobID)
				}
			} else {
				healErr = s.jobs.TerminalStall(jobCtx, j.ID, "job exceeded its timeout and exhausted all retry attempts")
				if healErr == nil {
					totalTerminated++
					s.emit(jobCtx, domain.EventJobStalledTerm, clusterID, jobID)
				}
			}
			if healErr != nil {
				jobSpan.RecordError(healErr)
				slog.Error("self-healer failed to heal job", slog.String("job_id", j.ID), slog.Any("error", healErr))
			}
			jobSpan.End()
		}
		pageSpan.End()

		if len(jobs) < s.pageSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("jobs.total_checked", totalChecked),
		attribute.Int("jobs.total_requeued", totalRequeued),
		attribute.Int("jobs.total_terminated", totalTerminated),
	)
}

func (s *SelfHealer) emit(ctx context.Context, kind domain.EventKind, clusterID, jobID string) {
	if s.events == nil {
		return
	}
	e := domain.Event{ID: newEventID(), ClusterID: clusterID, Kind: kind, JobID: &jobID}
	if err := s.events.Emit(ctx, e); err != nil {
		slog.Warn("self-healer failed to emit event", slog.String("kind", string(kind)), slog.Any("error", err))
	}
}
