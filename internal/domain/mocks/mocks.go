// Package mocks holds hand-written testify/mock doubles for the domain
// ports, in the shape mockery would generate (only JobRepository carries a
// //go:generate directive).
package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// MockJobRepository mocks domain.JobRepository.
type MockJobRepository struct{ mock.Mock }

func (m *MockJobRepository) Create(ctx domain.Context, j domain.Job) (string, error) {
	args := m.Called(ctx, j)
	return args.String(0), args.Error(1)
}

func (m *MockJobRepository) Get(ctx domain.Context, clusterID, id string) (domain.Job, error) {
	args := m.Called(ctx, clusterID, id)
	job, _ := args.Get(0).(domain.Job)
	return job, args.Error(1)
}

func (m *MockJobRepository) FindByIdempotencyKey(ctx domain.Context, clusterID, targetFn, key string) (domain.Job, error) {
	args := m.Called(ctx, clusterID, targetFn, key)
	job, _ := args.Get(0).(domain.Job)
	return job, args.Error(1)
}

func (m *MockJobRepository) FindFreshCacheHit(ctx domain.Context, clusterID, service, targetFn, cacheKey string, ttl time.Duration) (domain.Job, error) {
	args := m.Called(ctx, clusterID, service, targetFn, cacheKey, ttl)
	job, _ := args.Get(0).(domain.Job)
	return job, args.Error(1)
}

func (m *MockJobRepository) ClaimNext(ctx domain.Context, clusterID, service, machineID string, limit int) ([]domain.Job, error) {
	args := m.Called(ctx, clusterID, service, machineID, limit)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}

func (m *MockJobRepository) PersistResult(ctx domain.Context, clusterID, jobID string, result []byte, resultType domain.ResultType, execMs *int64) error {
	args := m.Called(ctx, clusterID, jobID, result, resultType, execMs)
	return args.Error(0)
}

func (m *MockJobRepository) GetStatuses(ctx domain.Context, clusterID string, ids []string) ([]domain.Job, error) {
	args := m.Called(ctx, clusterID, ids)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}

func (m *MockJobRepository) ListStalledRunning(ctx domain.Context, offset, limit int) ([]domain.Job, error) {
	args := m.Called(ctx, offset, limit)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}

func (m *MockJobRepository) ListWithFilters(ctx domain.Context, clusterID string, offset, limit int, search, status string) ([]domain.Job, error) {
	args := m.Called(ctx, clusterID, offset, limit, search, status)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}

func (m *MockJobRepository) CountWithFilters(ctx domain.Context, clusterID string, search, status string) (int64, error) {
	args := m.Called(ctx, clusterID, search, status)
	count, _ := args.Get(0).(int64)
	return count, args.Error(1)
}

func (m *MockJobRepository) Requeue(ctx domain.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockJobRepository) TerminalStall(ctx domain.Context, jobID string, message string) error {
	args := m.Called(ctx, jobID, message)
	return args.Error(0)
}

func (m *MockJobRepository) CountPending(ctx domain.Context, clusterID, service string) (int64, error) {
	args := m.Called(ctx, clusterID, service)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockJobRepository) PurgeOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockClusterRepository mocks domain.ClusterRepository.
type MockClusterRepository struct{ mock.Mock }

func (m *MockClusterRepository) Get(ctx domain.Context, id string) (domain.Cluster, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(domain.Cluster)
	return c, args.Error(1)
}

func (m *MockClusterRepository) VerifySecret(ctx domain.Context, id, secret string) (bool, error) {
	args := m.Called(ctx, id, secret)
	return args.Bool(0), args.Error(1)
}

// MockMachineRepository mocks domain.MachineRepository.
type MockMachineRepository struct{ mock.Mock }

func (m *MockMachineRepository) Upsert(ctx domain.Context, mm domain.Machine) error {
	args := m.Called(ctx, mm)
	return args.Error(0)
}

func (m *MockMachineRepository) CountRunning(ctx domain.Context, clusterID, service string, since time.Duration) (int64, error) {
	args := m.Called(ctx, clusterID, service, since)
	return args.Get(0).(int64), args.Error(1)
}

// MockServiceDefinitionRepository mocks domain.ServiceDefinitionRepository.
type MockServiceDefinitionRepository struct{ mock.Mock }

func (m *MockServiceDefinitionRepository) Upsert(ctx domain.Context, def domain.ServiceDefinition) error {
	args := m.Called(ctx, def)
	return args.Error(0)
}

func (m *MockServiceDefinitionRepository) Get(ctx domain.Context, clusterID, service string) (domain.ServiceDefinition, error) {
	args := m.Called(ctx, clusterID, service)
	def, _ := args.Get(0).(domain.ServiceDefinition)
	return def, args.Error(1)
}

// MockDeploymentRepository mocks domain.DeploymentRepository.
type MockDeploymentRepository struct{ mock.Mock }

func (m *MockDeploymentRepository) Create(ctx domain.Context, d domain.Deployment) (string, error) {
	args := m.Called(ctx, d)
	return args.String(0), args.Error(1)
}

func (m *MockDeploymentRepository) Get(ctx domain.Context, clusterID, id string) (domain.Deployment, error) {
	args := m.Called(ctx, clusterID, id)
	d, _ := args.Get(0).(domain.Deployment)
	return d, args.Error(1)
}

func (m *MockDeploymentRepository) ActiveFor(ctx domain.Context, clusterID, service string) (domain.Deployment, error) {
	args := m.Called(ctx, clusterID, service)
	d, _ := args.Get(0).(domain.Deployment)
	return d, args.Error(1)
}

func (m *MockDeploymentRepository) Release(ctx domain.Context, clusterID, id string) error {
	args := m.Called(ctx, clusterID, id)
	return args.Error(0)
}

// MockEventSink mocks domain.EventSink.
type MockEventSink struct{ mock.Mock }

func (m *MockEventSink) Emit(ctx domain.Context, e domain.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}
