package usecase

import (
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/cache"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// RateLimiter is the token-bucket check StatusService uses to protect the
// status endpoint from a misbehaving results poller hammering it (spec
// §4.9's 429 response, which the client-side poller treats as "sleep 5s").
type RateLimiter interface {
	Allow(ctx domain.Context, key string, cfg cache.BucketConfig, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// StatusService implements job status reads, including the bounded
// long-poll variant (spec §4.4) that lets a client avoid tight polling by
// blocking server-side until any requested job is terminal or the deadline
// elapses.
type StatusService struct {
	Jobs domain.JobRepository

	// Events, when set, records a jobStatusRequest audit event per row
	// returned to a caller (spec §4.4). Nil disables the audit trail.
	Events domain.EventSink

	// RateLimit, when set, caps how often a cluster may call GetStatuses/
	// AwaitStatuses. Nil disables rate limiting.
	RateLimit RateLimiter
	// RateLimitConfig configures the per-cluster status-poll bucket.
	RateLimitConfig cache.BucketConfig
}

// emitStatusRequests records a jobStatusRequest event per returned row.
func (s *StatusService) emitStatusRequests(ctx domain.Context, clusterID string, jobs []domain.Job) {
	if s.Events == nil {
		return
	}
	for _, j := range jobs {
		jobID := j.ID
		e := domain.Event{ID: newJobID(), ClusterID: clusterID, Kind: domain.EventJobStatusRequest, JobID: &jobID}
		_ = s.Events.Emit(ctx, e)
	}
}

func (s *StatusService) checkRateLimit(ctx domain.Context, clusterID string) error {
	if s.RateLimit == nil {
		return nil
	}
	allowed, _, err := s.RateLimit.Allow(ctx, "status:"+clusterID, s.RateLimitConfig, 1)
	if err != nil {
		return nil // fail open on limiter errors
	}
	if !allowed {
		return fmt.Errorf("op=status.rate_limit: %w", domain.ErrRateLimited)
	}
	return nil
}

// GetStatuses returns the current projection for the given ids; missing
// ids are simply absent.
func (s *StatusService) GetStatuses(ctx domain.Context, clusterID string, ids []string) ([]domain.Job, error) {
	tracer := otel.Tracer("usecase.status")
	ctx, span := tracer.Start(ctx, "usecase.GetStatuses")
	defer span.End()
	span.SetAttributes(attribute.String("cluster.id", clusterID), attribute.Int("ids.count", len(ids)))

	if err := s.checkRateLimit(ctx, clusterID); err != nil {
		return nil, err
	}

	jobs, err := s.Jobs.GetStatuses(ctx, clusterID, ids)
	if err != nil {
		return nil, fmt.Errorf("op=status.get_statuses: %w", err)
	}
	s.emitStatusRequests(ctx, clusterID, jobs)
	return jobs, nil
}

// anyTerminal reports whether at least one requested job has resolved
// (spec §4.4: "if any requested row has status success or failure-terminal,
// return immediately"). A failure row counts as terminal once it carries a
// result type, which is how the self-healer's terminal stall leaves it. A
// missing id (not yet visible, or a typo) never blocks the wait on its own
// since it is silently omitted rather than treated as still-pending.
func anyTerminal(jobs []domain.Job) bool {
	for _, j := range jobs {
		outcome := domain.DeriveOutcome(j.Status, j.ResultType)
		if outcome != domain.OutcomePending && outcome != domain.OutcomeStalled {
			return true
		}
		if j.Status == domain.JobFailure && j.ResultType != nil {
			return true
		}
	}
	return false
}

// AwaitStatuses long-polls GetStatuses, server-side, until any returned job
// is terminal or maxWait elapses, using capped exponential backoff between
// re-checks rather than a tight loop.
func (s *StatusService) AwaitStatuses(ctx domain.Context, clusterID string, ids []string, maxWait time.Duration) ([]domain.Job, error) {
	tracer := otel.Tracer("usecase.status")
	ctx, span := tracer.Start(ctx, "usecase.AwaitStatuses")
	defer span.End()
	span.SetAttributes(attribute.String("cluster.id", clusterID), attribute.Int("ids.count", len(ids)))

	if err := s.checkRateLimit(ctx, clusterID); err != nil {
		return nil, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 50 * time.Millisecond
	expo.MaxInterval = 1 * time.Second
	expo.MaxElapsedTime = maxWait

	var latest []domain.Job
	op := func() error {
		jobs, err := s.Jobs.GetStatuses(ctx, clusterID, ids)
		if err != nil {
			return backoff.Permanent(err)
		}
		latest = jobs
		if anyTerminal(jobs) {
			return nil
		}
		return fmt.Errorf("op=status.await: jobs still pending")
	}

	bo := backoff.WithContext(expo, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if latest == nil {
			return nil, fmt.Errorf("op=status.await_statuses: %w", err)
		}
		// Deadline reached with some jobs still pending: return the best
		// snapshot we have rather than an error, per spec §4.4 ("bounded
		// long-poll", not "fail if not all resolved by deadline").
		s.emitStatusRequests(ctx, clusterID, latest)
		return latest, nil
	}
	s.emitStatusRequests(ctx, clusterID, latest)
	return latest, nil
}
