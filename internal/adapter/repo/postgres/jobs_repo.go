package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// JobRepo persists and claims jobs from PostgreSQL using a minimal pgx pool.
// The (cluster_id, target_fn, idempotency_key) triple is the admission
// dedup key (spec §3); ClaimNext implements the atomic dispatcher claim
// (spec §4.2) with row-level "skip locked" semantics.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new job. If a row with the same (cluster_id, target_fn,
// idempotency_key) already exists, the insert is a no-op and the existing
// row's id is returned along with ErrConflict, per spec §4.1.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)

	now := time.Now().UTC()
	q := `INSERT INTO jobs (
		id, cluster_id, service, target_fn, target_args, status,
		idempotency_key, cache_key, cache_ttl_seconds, remaining_attempts,
		timeout_interval_seconds, predictive_retries, deployment_id,
		created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (cluster_id, target_fn, idempotency_key) DO NOTHING
	RETURNING id`
	row := r.Pool.QueryRow(ctx, q,
		j.ID, j.ClusterID, j.Service, j.TargetFn, j.TargetArgs, domain.JobPending,
		j.IdempotencyKey, j.CacheKey, j.CacheTTLSeconds, j.RemainingAttempts,
		j.TimeoutIntervalSeconds, j.PredictiveRetries, j.DeploymentID,
		now, now,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			existing, ferr := r.FindByIdempotencyKey(ctx, j.ClusterID, j.TargetFn, j.IdempotencyKey)
			if ferr != nil {
				return "", fmt.Errorf("op=job.create.conflict_lookup: %w", ferr)
			}
			return existing.ID, fmt.Errorf("op=job.create: %w", domain.ErrConflict)
		}
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

const jobSelectColumns = `id, cluster_id, service, target_fn, target_args, status, result,
	result_type, idempotency_key, cache_key, cache_ttl_seconds, remaining_attempts,
	timeout_interval_seconds, executing_machine_id, predictive_retries, deployment_id,
	created_at, updated_at, last_retrieved_at, resulted_at, function_execution_time_ms`

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var resultType *string
	if err := row.Scan(
		&j.ID, &j.ClusterID, &j.Service, &j.TargetFn, &j.TargetArgs, &j.Status, &j.Result,
		&resultType, &j.IdempotencyKey, &j.CacheKey, &j.CacheTTLSeconds, &j.RemainingAttempts,
		&j.TimeoutIntervalSeconds, &j.ExecutingMachineID, &j.PredictiveRetries, &j.DeploymentID,
		&j.CreatedAt, &j.UpdatedAt, &j.LastRetrievedAt, &j.ResultedAt, &j.FunctionExecutionTimeMs,
	); err != nil {
		return domain.Job{}, err
	}
	if resultType != nil {
		rt := domain.ResultType(*resultType)
		j.ResultType = &rt
	}
	return j, nil
}

// Get loads a job by id, scoped to cluster.
func (r *JobRepo) Get(ctx domain.Context, clusterID, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id=$1 AND cluster_id=$2`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id, clusterID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// FindByIdempotencyKey loads a job by its (cluster, target_fn,
// idempotency_key) triple.
func (r *JobRepo) FindByIdempotencyKey(ctx domain.Context, clusterID, targetFn, key string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindByIdempotencyKey")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE cluster_id=$1 AND target_fn=$2 AND idempotency_key=$3`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, clusterID, targetFn, key))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.find_idem: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.find_idem: %w", err)
	}
	return j, nil
}

// FindFreshCacheHit returns the most recent successful resolution matching
// (cluster, service, target_fn, cache_key) within ttl, newest-first on
// resulted_at with ties broken by id descending (spec §4.1).
func (r *JobRepo) FindFreshCacheHit(ctx domain.Context, clusterID, service, targetFn, cacheKey string, ttl time.Duration) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindFreshCacheHit")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	cutoff := time.Now().UTC().Add(-ttl)
	q := `SELECT ` + jobSelectColumns + ` FROM jobs
		WHERE cluster_id=$1 AND service=$2 AND target_fn=$3 AND cache_key=$4
		AND status=$5 AND result_type=$6 AND resulted_at >= $7
		ORDER BY resulted_at DESC, id DESC LIMIT 1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, clusterID, service, targetFn, cacheKey, domain.JobSuccess, domain.ResultResolution, cutoff))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.cache_hit: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.cache_hit: %w", err)
	}
	return j, nil
}

// ClaimNext atomically claims up to limit pending/failure jobs for
// (cluster, service) using row-level "skip locked" semantics so concurrent
// polls never double-claim the same job (spec invariant 2). Selection order
// is insertion order: job ids are ULIDs, so ORDER BY id is creation order.
func (r *JobRepo) ClaimNext(ctx domain.Context, clusterID, service, machineID string, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ClaimNext")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("cluster.id", clusterID),
		attribute.String("service.name", service),
		attribute.Int("claim.limit", limit),
	)
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	q := `WITH claimable AS (
		SELECT id FROM jobs
		WHERE cluster_id=$1 AND service=$2
		AND status IN ($3,$4) AND remaining_attempts > 0
		ORDER BY id ASC
		LIMIT $5
		FOR UPDATE SKIP LOCKED
	)
	UPDATE jobs SET
		status=$6,
		remaining_attempts = remaining_attempts - 1,
		last_retrieved_at = $7,
		executing_machine_id = $8,
		updated_at = $7
	WHERE id IN (SELECT id FROM claimable)
	RETURNING ` + jobSelectColumns

	rows, err := r.Pool.Query(ctx, q, clusterID, service, domain.JobPending, domain.JobFailure, limit, domain.JobRunning, now, machineID)
	if err != nil {
		return nil, fmt.Errorf("op=job.claim: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, serr := scanJob(rows)
		if serr != nil {
			return nil, fmt.Errorf("op=job.claim_scan: %w", serr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.claim_rows: %w", err)
	}
	span.SetAttributes(attribute.Int("claim.claimed", len(jobs)))
	return jobs, nil
}

// PersistResult transitions a running job to success (spec §4.3). Both
// resolutions and rejections land in JobSuccess; idempotent on repeated
// posts for an already-terminated job (last-writer-wins but never reopens
// a terminated job).
func (r *JobRepo) PersistResult(ctx domain.Context, clusterID, jobID string, result []byte, resultType domain.ResultType, execMs *int64) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.PersistResult")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))

	now := time.Now().UTC()
	q := `UPDATE jobs SET
		status=$1, result=$2, result_type=$3, resulted_at=$4, updated_at=$4,
		function_execution_time_ms = COALESCE($5, function_execution_time_ms)
	WHERE id=$6 AND cluster_id=$7`
	tag, err := r.Pool.Exec(ctx, q, domain.JobSuccess, result, resultType, now, execMs, jobID, clusterID)
	if err != nil {
		return fmt.Errorf("op=job.persist_result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.persist_result: %w", domain.ErrNotFound)
	}
	return nil
}

// GetStatuses reads status/result/result_type for the given ids, scoped to
// cluster. Missing ids are silently omitted (spec §4.4).
func (r *JobRepo) GetStatuses(ctx domain.Context, clusterID string, ids []string) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.GetStatuses")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))
	if len(ids) == 0 {
		return nil, nil
	}

	q := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE cluster_id=$1 AND id = ANY($2)`
	rows, err := r.Pool.Query(ctx, q, clusterID, ids)
	if err != nil {
		return nil, fmt.Errorf("op=job.get_statuses: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, serr := scanJob(rows)
		if serr != nil {
			return nil, fmt.Errorf("op=job.get_statuses_scan: %w", serr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.get_statuses_rows: %w", err)
	}
	return jobs, nil
}

// ListStalledRunning returns running jobs whose last_retrieved_at predates
// now minus their effective timeout, used by the Self-Healer (spec §4.5).
// Pagination mirrors the teacher's stuck-job sweeper.
//
// Effective timeout uses COALESCE(timeout_interval_seconds, default) rather
// than a literal max(timeout_interval_seconds, default_timeout): per-job
// timeout_interval_seconds, when set, is an explicit override and takes
// precedence over the default in either direction (see DESIGN.md).
func (r *JobRepo) ListStalledRunning(ctx domain.Context, offset, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStalledRunning")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT ` + jobSelectColumns + ` FROM jobs
		WHERE status=$1
		AND last_retrieved_at IS NOT NULL
		AND (EXTRACT(EPOCH FROM (now() - last_retrieved_at))) > COALESCE(timeout_interval_seconds, $2)
		ORDER BY id ASC
		LIMIT $3 OFFSET $4`
	rows, err := r.Pool.Query(ctx, q, domain.JobRunning, defaultTimeoutPlaceholder, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stalled: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, serr := scanJob(rows)
		if serr != nil {
			return nil, fmt.Errorf("op=job.list_stalled_scan: %w", serr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_stalled_rows: %w", err)
	}
	return jobs, nil
}

// ListWithFilters returns a paginated, cluster-scoped job listing, newest
// first, optionally narrowed by status and an ILIKE substring search over
// id/service/target_fn. Mirrors the teacher's admin job listing query,
// generalized from (cv_id, project_id) columns to this domain's
// (service, target_fn).
func (r *JobRepo) ListWithFilters(ctx domain.Context, clusterID string, offset, limit int, search, status string) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListWithFilters")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)

	where := "WHERE cluster_id=$1"
	args := []interface{}{clusterID}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		where += fmt.Sprintf(" AND (id ILIKE $%d OR service ILIKE $%d OR target_fn ILIKE $%d)", len(args), len(args), len(args))
	}
	args = append(args, limit, offset)
	q := `SELECT ` + jobSelectColumns + ` FROM jobs ` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_with_filters: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, serr := scanJob(rows)
		if serr != nil {
			return nil, fmt.Errorf("op=job.list_with_filters_scan: %w", serr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_with_filters_rows: %w", err)
	}
	return jobs, nil
}

// CountWithFilters returns the total row count matching the same filters as
// ListWithFilters, for pagination metadata.
func (r *JobRepo) CountWithFilters(ctx domain.Context, clusterID string, search, status string) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountWithFilters")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COUNT"),
		attribute.String("db.sql.table", "jobs"),
	)

	where := "WHERE cluster_id=$1"
	args := []interface{}{clusterID}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		where += fmt.Sprintf(" AND (id ILIKE $%d OR service ILIKE $%d OR target_fn ILIKE $%d)", len(args), len(args), len(args))
	}
	q := `SELECT COUNT(*) FROM jobs ` + where
	row := r.Pool.QueryRow(ctx, q, args...)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=job.count_with_filters: %w", err)
	}
	return count, nil
}

// defaultTimeoutPlaceholder is overridden process-wide by
// SetDefaultTimeoutSeconds; kept as a package-level default so ListStalledRunning has a sane
// fallback even before configuration is wired.
var defaultTimeoutPlaceholder = 30

// SetDefaultTimeoutSeconds configures the fallback stall timeout used when a
// job carries no explicit timeout_interval_seconds.
func SetDefaultTimeoutSeconds(seconds int) {
	if seconds > 0 {
		defaultTimeoutPlaceholder = seconds
	}
}

// Requeue transitions a stalled-but-retryable job back to pending, clearing
// executing_machine_id, per spec §4.5 (attempt count already decremented at
// claim time and left unchanged here).
func (r *JobRepo) Requeue(ctx domain.Context, jobID string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Requeue")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))

	q := `UPDATE jobs SET status=$1, executing_machine_id=NULL, updated_at=$2
		WHERE id=$3 AND status=$4`
	tag, err := r.Pool.Exec(ctx, q, domain.JobPending, time.Now().UTC(), jobID, domain.JobRunning)
	if err != nil {
		return fmt.Errorf("op=job.requeue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Debug("requeue affected no rows; job may have already resulted", slog.String("job_id", jobID))
	}
	return nil
}

// TerminalStall transitions an attempts-exhausted stalled job to the
// terminal rejected state with a synthetic payload (spec §4.5).
func (r *JobRepo) TerminalStall(ctx domain.Context, jobID string, message string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.TerminalStall")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))

	now := time.Now().UTC()
	q := `UPDATE jobs SET status=$1, result=$2, result_type=$3, resulted_at=$4, updated_at=$4, executing_machine_id=NULL
		WHERE id=$5 AND status=$6`
	tag, err := r.Pool.Exec(ctx, q, domain.JobFailure, []byte(message), domain.ResultRejection, now, jobID, domain.JobRunning)
	if err != nil {
		return fmt.Errorf("op=job.terminal_stall: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Debug("terminal stall affected no rows; job may have already resulted", slog.String("job_id", jobID))
	}
	return nil
}

// CountPending returns the number of claimable jobs for (cluster, service),
// used by the Wake-up Notifier (spec §4.6).
func (r *JobRepo) CountPending(ctx domain.Context, clusterID, service string) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountPending")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "COUNT"))

	q := `SELECT COUNT(*) FROM jobs WHERE cluster_id=$1 AND service=$2 AND status IN ($3,$4) AND remaining_attempts > 0`
	row := r.Pool.QueryRow(ctx, q, clusterID, service, domain.JobPending, domain.JobFailure)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=job.count_pending: %w", err)
	}
	return count, nil
}

// PurgeOlderThan deletes terminal jobs created before cutoff (ambient
// data-retention concern, not governed by the cache TTL window).
func (r *JobRepo) PurgeOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.PurgeOlderThan")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "DELETE"))

	q := `DELETE FROM jobs WHERE status IN ($1,$2) AND created_at < $3`
	tag, err := r.Pool.Exec(ctx, q, domain.JobSuccess, domain.JobFailure, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=job.purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
