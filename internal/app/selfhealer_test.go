package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain/mocks"
)

// TestSelfHealer_RequeueEmitsJobStalled guards spec §4.5's jobStalled
// emission: a stalled-but-retryable job must be requeued AND recorded.
func TestSelfHealer_RequeueEmitsJobStalled(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	jobRepo.On("ListStalledRunning", mock.Anything, 0, 100).
		Return([]domain.Job{{ID: "job-1", ClusterID: "c1", RemainingAttempts: 1}}, nil)
	jobRepo.On("Requeue", mock.Anything, "job-1").Return(nil)

	events := &mocks.MockEventSink{}
	events.On("Emit", mock.Anything, mock.MatchedBy(func(e domain.Event) bool {
		return e.Kind == domain.EventJobStalled && e.ClusterID == "c1" && e.JobID != nil && *e.JobID == "job-1"
	})).Return(nil)

	h := NewSelfHealer(jobRepo, events, time.Minute, 100)
	require.NotNil(t, h)
	h.sweepOnce(context.Background())

	// A page shorter than pageSize ends the sweep: no second page is read.
	jobRepo.AssertNumberOfCalls(t, "ListStalledRunning", 1)
	jobRepo.AssertExpectations(t)
	events.AssertExpectations(t)
}

// TestSelfHealer_TerminalStallEmitsJobStalledTerminal guards spec §4.5's
// jobStalledTerminal emission on attempts-exhausted stall.
func TestSelfHealer_TerminalStallEmitsJobStalledTerminal(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	jobRepo.On("ListStalledRunning", mock.Anything, 0, 100).
		Return([]domain.Job{{ID: "job-2", ClusterID: "c1", RemainingAttempts: 0}}, nil)
	jobRepo.On("TerminalStall", mock.Anything, "job-2", mock.Anything).Return(nil)

	events := &mocks.MockEventSink{}
	events.On("Emit", mock.Anything, mock.MatchedBy(func(e domain.Event) bool {
		return e.Kind == domain.EventJobStalledTerm && e.JobID != nil && *e.JobID == "job-2"
	})).Return(nil)

	h := NewSelfHealer(jobRepo, events, time.Minute, 100)
	require.NotNil(t, h)
	h.sweepOnce(context.Background())

	// A page shorter than pageSize ends the sweep: no second page is read.
	jobRepo.AssertNumberOfCalls(t, "ListStalledRunning", 1)
	jobRepo.AssertExpectations(t)
	events.AssertExpectations(t)
}

// TestSelfHealer_NilEventSinkIsSafe guards the optional-events contract:
// a nil sink must not panic and healing must still proceed.
func TestSelfHealer_NilEventSinkIsSafe(t *testing.T) {
	jobRepo := &mocks.MockJobRepository{}
	jobRepo.On("ListStalledRunning", mock.Anything, 0, 100).
		Return([]domain.Job{{ID: "job-3", ClusterID: "c1", RemainingAttempts: 1}}, nil)
	jobRepo.On("Requeue", mock.Anything, "job-3").Return(nil)

	h := NewSelfHealer(jobRepo, nil, time.Minute, 100)
	require.NotNil(t, h)
	h.sweepOnce(context.Background())

	// A page shorter than pageSize ends the sweep: no second page is read.
	jobRepo.AssertNumberOfCalls(t, "ListStalledRunning", 1)
	jobRepo.AssertExpectations(t)
}
