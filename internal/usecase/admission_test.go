package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain/mocks"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/usecase"
)

func TestCreateJob_InvalidArgs(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	defs := &mocks.MockServiceDefinitionRepository{}
	svc := &usecase.AdmissionService{Jobs: jobRepo, ServiceDefs: defs, DefaultRetry: 2}

	_, err := svc.CreateJob(context.Background(), "c1", usecase.CreateJobRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCreateJob_IdempotencyReplay(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	defs := &mocks.MockServiceDefinitionRepository{}
	defs.On("Get", mock.Anything, "c1", "svc").Return(domain.ServiceDefinition{}, domain.ErrNotFound)
	jobRepo.On("FindByIdempotencyKey", mock.Anything, "c1", "fn", "idem-1").
		Return(domain.Job{ID: "existing-job"}, nil)

	svc := &usecase.AdmissionService{Jobs: jobRepo, ServiceDefs: defs, DefaultRetry: 2}
	job, err := svc.CreateJob(context.Background(), "c1", usecase.CreateJobRequest{
		Service: "svc", TargetFn: "fn", IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "existing-job", job.ID)
	jobRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateJob_UndeclaredFunction(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	defs := &mocks.MockServiceDefinitionRepository{}
	defs.On("Get", mock.Anything, "c1", "svc").Return(domain.ServiceDefinition{
		ClusterID: "c1", Service: "svc",
		Functions: []domain.FunctionDeclaration{{Name: "other"}},
	}, nil)
	jobRepo.On("FindByIdempotencyKey", mock.Anything, "c1", "fn", "idem-1").
		Return(domain.Job{}, domain.ErrNotFound)

	svc := &usecase.AdmissionService{Jobs: jobRepo, ServiceDefs: defs, DefaultRetry: 2}
	_, err := svc.CreateJob(context.Background(), "c1", usecase.CreateJobRequest{
		Service: "svc", TargetFn: "fn", IdempotencyKey: "idem-1",
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

// TestCreateJob_RemainingAttemptsIsOnePlusRetryCount guards spec scenario 4:
// retry_count_on_stall=1 must yield remaining_attempts=2 (one try plus one
// retry), and the configured default (2) must yield 3, not pass through
// verbatim.
func TestCreateJob_RemainingAttemptsIsOnePlusRetryCount(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	defs := &mocks.MockServiceDefinitionRepository{}
	defs.On("Get", mock.Anything, "c1", "svc").Return(domain.ServiceDefinition{}, domain.ErrNotFound)
	jobRepo.On("FindByIdempotencyKey", mock.Anything, "c1", "fn", mock.Anything).
		Return(domain.Job{}, domain.ErrNotFound)

	explicitRetry := 1
	jobRepo.On("Create", mock.Anything, mock.MatchedBy(func(j domain.Job) bool {
		return j.IdempotencyKey == "idem-explicit" && j.RemainingAttempts == 2
	})).Return("job-explicit", nil)
	jobRepo.On("Create", mock.Anything, mock.MatchedBy(func(j domain.Job) bool {
		return j.IdempotencyKey == "idem-default" && j.RemainingAttempts == 3
	})).Return("job-default", nil)

	svc := &usecase.AdmissionService{Jobs: jobRepo, ServiceDefs: defs, DefaultRetry: 2}

	_, err := svc.CreateJob(context.Background(), "c1", usecase.CreateJobRequest{
		Service: "svc", TargetFn: "fn", IdempotencyKey: "idem-explicit", RetryCountOnStall: &explicitRetry,
	})
	require.NoError(t, err)

	_, err = svc.CreateJob(context.Background(), "c1", usecase.CreateJobRequest{
		Service: "svc", TargetFn: "fn", IdempotencyKey: "idem-default",
	})
	require.NoError(t, err)

	jobRepo.AssertExpectations(t)
}

func TestCreateJob_Success(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	defs := &mocks.MockServiceDefinitionRepository{}
	events := &mocks.MockEventSink{}
	defs.On("Get", mock.Anything, "c1", "svc").Return(domain.ServiceDefinition{}, domain.ErrNotFound)
	jobRepo.On("FindByIdempotencyKey", mock.Anything, "c1", "fn", "idem-1").
		Return(domain.Job{}, domain.ErrNotFound)
	jobRepo.On("Create", mock.Anything, mock.MatchedBy(func(j domain.Job) bool {
		return j.Service == "svc" && j.TargetFn == "fn" && j.Status == domain.JobPending
	})).Return("job-1", nil)
	events.On("Emit", mock.Anything, mock.MatchedBy(func(e domain.Event) bool {
		return e.Kind == domain.EventJobCreated
	})).Return(nil)

	svc := &usecase.AdmissionService{Jobs: jobRepo, ServiceDefs: defs, Events: events, DefaultRetry: 2}
	job, err := svc.CreateJob(context.Background(), "c1", usecase.CreateJobRequest{
		Service: "svc", TargetFn: "fn", IdempotencyKey: "idem-1", TargetArgs: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	jobRepo.AssertExpectations(t)
	events.AssertExpectations(t)
}
