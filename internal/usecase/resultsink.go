package usecase

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/cache"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// ResultSinkService implements result posting (spec §4.3): a worker that
// finished executing a claimed job reports the outcome here.
type ResultSinkService struct {
	Jobs  domain.JobRepository
	Cache *cache.Client
}

// PostResult records a job's outcome. When the job carries a cache key,
// a successful resolution is mirrored into the fast-path cache so the next
// admission with the same key can skip the database lookup.
func (s *ResultSinkService) PostResult(ctx domain.Context, clusterID, jobID string, result []byte, resultType domain.ResultType, execMs *int64) error {
	tracer := otel.Tracer("usecase.resultsink")
	ctx, span := tracer.Start(ctx, "usecase.PostResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("cluster.id", clusterID),
		attribute.String("job.id", jobID),
		attribute.String("result.type", string(resultType)),
	)

	if err := s.Jobs.PersistResult(ctx, clusterID, jobID, result, resultType, execMs); err != nil {
		return fmt.Errorf("op=resultsink.post_result: %w", err)
	}

	if s.Cache != nil && resultType == domain.ResultResolution {
		job, err := s.Jobs.Get(ctx, clusterID, jobID)
		if err == nil && job.CacheKey != nil && *job.CacheKey != "" {
			ttl := 60 * time.Second
			if job.CacheTTLSeconds != nil && *job.CacheTTLSeconds > 0 {
				ttl = time.Duration(*job.CacheTTLSeconds) * time.Second
			}
			_ = s.Cache.RememberCacheHit(ctx, clusterID, job.Service, job.TargetFn, *job.CacheKey, job.ID, ttl)
		}
	}
	return nil
}
