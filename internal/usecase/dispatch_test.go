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

func TestNextJobs_ClaimsAndHeartbeats(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	machines := &mocks.MockMachineRepository{}
	events := &mocks.MockEventSink{}

	machines.On("Upsert", mock.Anything, mock.MatchedBy(func(m domain.Machine) bool {
		return m.ID == "m1" && m.ClusterID == "c1"
	})).Return(nil)
	jobRepo.On("ClaimNext", mock.Anything, "c1", "svc", "m1", 5).
		Return([]domain.Job{{ID: "job-1", Status: domain.JobRunning}}, nil)
	events.On("Emit", mock.Anything, mock.Anything).Return(nil)

	svc := &usecase.DispatchService{Jobs: jobRepo, Machines: machines, Events: events}
	jobs, err := svc.NextJobs(context.Background(), "c1", "svc", "m1", "10.0.0.1", 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	jobRepo.AssertExpectations(t)
	machines.AssertExpectations(t)
}
