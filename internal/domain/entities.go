// Package domain defines core entities, ports, and domain-specific errors
// shared between the control plane and worker agent.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")
)

// Context is a type alias to stdlib context.Context for convenience across
// layers, matching the teacher's decoupling convention.
type Context = context.Context

// JobStatus captures the on-the-wire lifecycle state of a job. The naming
// here preserves spec-mandated DB/wire compatibility. A claim still accepts
// "failure" rows that have attempts left, but in this module a stalled job
// with attempts left is requeued to "pending"; "failure" is written only by
// the self-healer's terminal stall, together with ResultType Rejection.
// Callers that want the clean distinction should use Outcome (below)
// instead of branching on Status directly.
type JobStatus string

// Job status values. See the package doc and spec §3/§9 for the
// intentionally conflated "failure" naming.
const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailure JobStatus = "failure"
)

// ResultType distinguishes a resolved call from a rejected one. Both flow
// into JobSuccess; only a stalled-and-exhausted job uses ResultType
// Rejection while status is Failure.
type ResultType string

// Result type values.
const (
	ResultResolution ResultType = "resolution"
	ResultRejection  ResultType = "rejection"
)

// Outcome is the clean classification the spec's open question (§9) asks
// for: resolution, rejection, stalled (any "failure" row), or pending (no
// result yet). It is derived, never persisted, from Status+ResultType.
type Outcome string

// Outcome values.
const (
	OutcomeResolution Outcome = "resolution"
	OutcomeRejection  Outcome = "rejection"
	OutcomeStalled    Outcome = "stalled"
	OutcomePending    Outcome = "pending"
)

// DeriveOutcome computes the clean outcome classification for a job without
// changing its persisted wire status.
func DeriveOutcome(status JobStatus, resultType *ResultType) Outcome {
	switch status {
	case JobSuccess:
		if resultType != nil && *resultType == ResultRejection {
			return OutcomeRejection
		}
		return OutcomeResolution
	case JobFailure:
		return OutcomeStalled
	default:
		return OutcomePending
	}
}

// Cluster is the tenant boundary: a shared secret used to authenticate
// worker polls and admission calls, plus per-cluster behavior flags.
type Cluster struct {
	ID                   string
	SecretHash           string
	PredictiveRetries    bool
	AutoRetryOnStall     bool
	Operational          bool
	CreatedAt            time.Time
}

// Job is the central entity: one invocation of a (service, function, args)
// with a durable lifecycle. See spec §3 for the full invariant list.
type Job struct {
	ID                     string
	ClusterID              string
	Service                string
	TargetFn               string
	TargetArgs             []byte
	Status                 JobStatus
	Result                 []byte
	ResultType             *ResultType
	IdempotencyKey         string
	CacheKey               *string
	CacheTTLSeconds        *int
	RemainingAttempts      int
	TimeoutIntervalSeconds *int
	ExecutingMachineID     *string
	PredictiveRetries      bool
	DeploymentID           *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
	LastRetrievedAt        *time.Time
	ResultedAt             *time.Time
	FunctionExecutionTimeMs *int64
}

// Claimable reports whether the job is eligible to be claimed by a poll,
// per the invariant in spec §3: status in {pending, failure} and attempts
// remain.
func (j Job) Claimable() bool {
	return (j.Status == JobPending || j.Status == JobFailure) && j.RemainingAttempts > 0
}

// Machine is a worker process instance, unique per (ID, ClusterID).
type Machine struct {
	ID           string
	ClusterID    string
	IP           string
	DeploymentID *string
	LastPingAt   time.Time
}

// FunctionDeclaration is one function within a ServiceDefinition.
type FunctionDeclaration struct {
	Name        string
	Idempotent  bool
	Rate        *int
	CacheTTL    *int
	RetryConfig *FunctionRetryConfig
}

// FunctionRetryConfig is the retry policy a registered function declares.
type FunctionRetryConfig struct {
	RetryCountOnStall int
	TimeoutSeconds    int
}

// ServiceDefinition is the per-cluster, per-service set of declared
// functions, upserted by a worker at startup when it loads a definition file.
type ServiceDefinition struct {
	ClusterID string
	Service   string
	Functions []FunctionDeclaration
	UpdatedAt time.Time
}

// HasFunction reports whether fn is declared on this service definition.
func (s ServiceDefinition) HasFunction(fn string) bool {
	for _, f := range s.Functions {
		if f.Name == fn {
			return true
		}
	}
	return false
}

// DeploymentStatus is the lifecycle state of a packaged worker image.
type DeploymentStatus string

// Deployment status values.
const (
	DeploymentUploading DeploymentStatus = "uploading"
	DeploymentReady     DeploymentStatus = "ready"
	DeploymentActive    DeploymentStatus = "active"
	DeploymentInactive  DeploymentStatus = "inactive"
)

// Deployment is a packaged worker image bound to (cluster, service).
// Nothing in this module limits how many rows per (cluster, service) are
// Active; ActiveFor reports only the newest.
type Deployment struct {
	ID        string
	ClusterID string
	Service   string
	Provider  string
	Status    DeploymentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventKind tags an audit event.
type EventKind string

// Event kinds emitted across the job lifecycle.
const (
	EventJobCreated       EventKind = "jobCreated"
	EventJobReceived      EventKind = "jobReceived"
	EventJobStatusRequest EventKind = "jobStatusRequest"
	EventJobStalled       EventKind = "jobStalled"
	EventJobStalledTerm   EventKind = "jobStalledTerminal"
	EventDeploymentNotify EventKind = "deploymentNotified"
	EventDeploymentRelease EventKind = "deploymentReleased"
)

// Event is an append-only audit record. Write-only from the core's
// perspective; nothing in this module reads events back out for decisions.
type Event struct {
	ID           string
	ClusterID    string
	Kind         EventKind
	JobID        *string
	MachineID    *string
	DeploymentID *string
	CreatedAt    time.Time
}

// Repositories (ports)

// JobRepository persists and claims jobs.
//
//go:generate mockery --name=JobRepository --with-expecter --filename=job_repository_mock.go
type JobRepository interface {
	// Create inserts a new job and returns its id. If the (cluster, fn,
	// idempotency_key) triple already exists, implementations return the
	// existing row's id and ErrConflict.
	Create(ctx Context, j Job) (string, error)
	// Get loads a job by id, scoped to cluster.
	Get(ctx Context, clusterID, id string) (Job, error)
	// FindByIdempotencyKey loads a job by its (cluster, target_fn,
	// idempotency_key) triple.
	FindByIdempotencyKey(ctx Context, clusterID, targetFn, key string) (Job, error)
	// FindFreshCacheHit returns the most recent successful resolution
	// matching (cluster, service, target_fn, cache_key) within the ttl.
	FindFreshCacheHit(ctx Context, clusterID, service, targetFn, cacheKey string, ttl time.Duration) (Job, error)
	// ClaimNext atomically claims up to limit pending/failure jobs for
	// (cluster, service), decrementing RemainingAttempts and setting
	// ExecutingMachineID, and returns their claim-time projection.
	ClaimNext(ctx Context, clusterID, service, machineID string, limit int) ([]Job, error)
	// PersistResult transitions a running job to success, recording the
	// result payload, result type, and execution time.
	PersistResult(ctx Context, clusterID, jobID string, result []byte, resultType ResultType, execMs *int64) error
	// GetStatuses reads (status, result, result_type) for the given ids,
	// scoped to cluster; missing ids are simply absent from the result.
	GetStatuses(ctx Context, clusterID string, ids []string) ([]Job, error)
	// ListStalledRunning returns running jobs whose last_retrieved_at is
	// older than their effective timeout (per-job or default), paginated.
	ListStalledRunning(ctx Context, offset, limit int) ([]Job, error)
	// ListWithFilters returns a paginated, cluster-scoped job listing
	// optionally filtered by status and a substring search over id/service/
	// targetFn, newest first. Backs the admin operational surface.
	ListWithFilters(ctx Context, clusterID string, offset, limit int, search, status string) ([]Job, error)
	// CountWithFilters returns the total row count for the same filters as
	// ListWithFilters, used to compute pagination metadata.
	CountWithFilters(ctx Context, clusterID string, search, status string) (int64, error)
	// Requeue transitions a stalled-but-retryable job back to pending.
	Requeue(ctx Context, jobID string) error
	// TerminalStall transitions an attempts-exhausted stalled job to the
	// terminal rejected state.
	TerminalStall(ctx Context, jobID string, message string) error
	// CountPending returns the number of pending/failure-retryable jobs for
	// (cluster, service), used by the wake-up notifier.
	CountPending(ctx Context, clusterID, service string) (int64, error)
	// PurgeOlderThan deletes terminal jobs created before cutoff.
	PurgeOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

// ClusterRepository manages tenant records.
type ClusterRepository interface {
	Get(ctx Context, id string) (Cluster, error)
	VerifySecret(ctx Context, id, secret string) (bool, error)
}

// MachineRepository upserts worker liveness records.
type MachineRepository interface {
	Upsert(ctx Context, m Machine) error
	CountRunning(ctx Context, clusterID, service string, since time.Duration) (int64, error)
}

// ServiceDefinitionRepository persists per-cluster function declarations.
type ServiceDefinitionRepository interface {
	Upsert(ctx Context, def ServiceDefinition) error
	Get(ctx Context, clusterID, service string) (ServiceDefinition, error)
}

// DeploymentRepository manages packaged worker images.
type DeploymentRepository interface {
	Create(ctx Context, d Deployment) (string, error)
	Get(ctx Context, clusterID, id string) (Deployment, error)
	ActiveFor(ctx Context, clusterID, service string) (Deployment, error)
	Release(ctx Context, clusterID, id string) error
}

// EventSink is the write-only audit stream.
type EventSink interface {
	Emit(ctx Context, e Event) error
}
