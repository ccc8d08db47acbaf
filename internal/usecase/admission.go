// Package usecase implements the job lifecycle operations (admission,
// dispatch, result persistence, status/long-poll) on top of the domain
// ports, mirroring the teacher's evaluate.go orchestration shape.
package usecase

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/cache"
	obsctx "github.com/fairyhunter13/ai-cv-evaluator/internal/observability"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Wakeup is the hook invoked after a job is admitted for a service with no
// recently-observed running machine, so the control plane can ask a
// serverless provider to cold-start a worker (spec §4.6). Implemented by
// internal/app's notifier.
type Wakeup interface {
	Notify(ctx domain.Context, clusterID, service string)
}

// AdmissionService implements job creation (spec §4.1).
type AdmissionService struct {
	Jobs         domain.JobRepository
	ServiceDefs  domain.ServiceDefinitionRepository
	Events       domain.EventSink
	Cache        *cache.Client
	Wakeup       Wakeup
	DefaultRetry int
	DefaultCacheTTLSeconds int
}

// CreateJobRequest is the validated admission-time payload.
type CreateJobRequest struct {
	Service                string
	TargetFn               string
	TargetArgs             []byte
	IdempotencyKey         string
	CacheKey               *string
	CacheTTLSeconds        *int
	RetryCountOnStall      *int
	TimeoutIntervalSeconds *int
	PredictiveRetries      bool
}

var ulidEntropy = ulid.Monotonic(rand.Reader, 0)

func newJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// CreateJob admits a new job, short-circuiting on idempotency-key replay
// and, when a cache key is supplied, on a fresh prior resolution (spec
// §4.1). It validates the target function is declared in the service's
// registered definition before creating the row.
func (s *AdmissionService) CreateJob(ctx domain.Context, clusterID string, req CreateJobRequest) (domain.Job, error) {
	tracer := otel.Tracer("usecase.admission")
	ctx, span := tracer.Start(ctx, "usecase.CreateJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("cluster.id", clusterID),
		attribute.String("service.name", req.Service),
		attribute.String("target.fn", req.TargetFn),
	)
	logger := obsctx.LoggerFromContext(ctx)

	if req.Service == "" || req.TargetFn == "" || req.IdempotencyKey == "" {
		return domain.Job{}, fmt.Errorf("op=admission.create_job: %w", domain.ErrInvalidArgument)
	}

	def, err := s.ServiceDefs.Get(ctx, clusterID, req.Service)
	if err == nil && !def.HasFunction(req.TargetFn) {
		return domain.Job{}, fmt.Errorf("op=admission.create_job.undeclared_function: %w", domain.ErrInvalidArgument)
	}

	if existing, ferr := s.Jobs.FindByIdempotencyKey(ctx, clusterID, req.TargetFn, req.IdempotencyKey); ferr == nil {
		logger.Info("admission idempotency replay", "job_id", existing.ID)
		return existing, nil
	}

	if req.CacheKey != nil && *req.CacheKey != "" {
		ttl := s.cacheTTL(req.CacheTTLSeconds)
		if s.Cache != nil {
			if jobID, found, cerr := s.Cache.LookupCacheHit(ctx, clusterID, req.Service, req.TargetFn, *req.CacheKey); cerr == nil && found {
				if job, gerr := s.Jobs.Get(ctx, clusterID, jobID); gerr == nil {
					return job, nil
				}
			}
		}
		if hit, herr := s.Jobs.FindFreshCacheHit(ctx, clusterID, req.Service, req.TargetFn, *req.CacheKey, ttl); herr == nil {
			if s.Cache != nil {
				_ = s.Cache.RememberCacheHit(ctx, clusterID, req.Service, req.TargetFn, *req.CacheKey, hit.ID, ttl)
			}
			return hit, nil
		}
	}

	// remaining_attempts is 1 (the initial try) plus the configured
	// retry-on-stall count, so retry_count_on_stall=0 still allows one try
	// and retry_count_on_stall=1 allows a try plus one retry (spec §4.1).
	retryCountOnStall := s.DefaultRetry
	if req.RetryCountOnStall != nil {
		retryCountOnStall = *req.RetryCountOnStall
	}
	if retryCountOnStall < 0 {
		retryCountOnStall = 0
	}
	attempts := 1 + retryCountOnStall

	job := domain.Job{
		ID:                     newJobID(),
		ClusterID:              clusterID,
		Service:                req.Service,
		TargetFn:               req.TargetFn,
		TargetArgs:             req.TargetArgs,
		Status:                 domain.JobPending,
		IdempotencyKey:         req.IdempotencyKey,
		CacheKey:               req.CacheKey,
		CacheTTLSeconds:        req.CacheTTLSeconds,
		RemainingAttempts:      attempts,
		TimeoutIntervalSeconds: req.TimeoutIntervalSeconds,
		PredictiveRetries:      req.PredictiveRetries,
	}

	id, err := s.Jobs.Create(ctx, job)
	if err != nil {
		job.ID = id
		return job, fmt.Errorf("op=admission.create_job: %w", err)
	}
	job.ID = id

	if s.Events != nil {
		_ = s.Events.Emit(ctx, domain.Event{ID: newJobID(), ClusterID: clusterID, Kind: domain.EventJobCreated, JobID: &job.ID})
	}
	if s.Wakeup != nil {
		s.Wakeup.Notify(ctx, clusterID, req.Service)
	}

	logger.Info("job admitted", "job_id", job.ID, "service", req.Service, "target_fn", req.TargetFn)
	return job, nil
}

func (s *AdmissionService) cacheTTL(override *int) time.Duration {
	if override != nil && *override > 0 {
		return time.Duration(*override) * time.Second
	}
	if s.DefaultCacheTTLSeconds > 0 {
		return time.Duration(s.DefaultCacheTTLSeconds) * time.Second
	}
	return 60 * time.Second
}
