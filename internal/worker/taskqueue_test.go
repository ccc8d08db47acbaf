package worker_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/worker"
)

func TestTaskQueue_SuccessfulTaskReportsResolution(t *testing.T) {
	q := worker.NewTaskQueue(2)

	var result worker.TaskResult
	done := make(chan struct{})
	ok := q.AddTask(worker.Task{
		Fn:   func(args []byte) ([]byte, error) { return []byte("ok"), nil },
		Args: []byte("in"),
		OnComplete: func(r worker.TaskResult) {
			result = r
			close(done)
		},
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not complete in time")
	}

	assert.Equal(t, domain.ResultResolution, result.Type)
	assert.Equal(t, []byte("ok"), result.Content)
	assert.NoError(t, result.Err)
}

func TestTaskQueue_HandlerErrorReportsRejection(t *testing.T) {
	q := worker.NewTaskQueue(1)

	done := make(chan worker.TaskResult, 1)
	q.AddTask(worker.Task{
		Fn:         func(args []byte) ([]byte, error) { return nil, errors.New("boom") },
		OnComplete: func(r worker.TaskResult) { done <- r },
	})

	r := <-done
	assert.Equal(t, domain.ResultRejection, r.Type)
	assert.EqualError(t, r.Err, "boom")
}

func TestTaskQueue_PanicRecoveredAsRejection(t *testing.T) {
	q := worker.NewTaskQueue(1)

	done := make(chan worker.TaskResult, 1)
	q.AddTask(worker.Task{
		Fn:         func(args []byte) ([]byte, error) { panic("kaboom") },
		OnComplete: func(r worker.TaskResult) { done <- r },
	})

	r := <-done
	assert.Equal(t, domain.ResultRejection, r.Type)
	require.Error(t, r.Err)
}

func TestTaskQueue_BoundedConcurrency(t *testing.T) {
	q := worker.NewTaskQueue(2)
	assert.Equal(t, 2, q.Capacity())

	started := make(chan struct{}, 3)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		q.AddTask(worker.Task{
			Fn: func(args []byte) ([]byte, error) {
				started <- struct{}{}
				<-release
				return nil, nil
			},
			OnComplete: func(worker.TaskResult) { wg.Done() },
		})
	}

	// Only 2 of the 3 tasks should be able to start concurrently.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, q.Running())

	close(release)
	wg.Wait()
}

func TestTaskQueue_QuitRejectsNewTasksAndWaitsForInFlight(t *testing.T) {
	q := worker.NewTaskQueue(1)

	release := make(chan struct{})
	doneOne := make(chan struct{})
	q.AddTask(worker.Task{
		Fn: func(args []byte) ([]byte, error) {
			<-release
			return nil, nil
		},
		OnComplete: func(worker.TaskResult) { close(doneOne) },
	})

	quitDone := make(chan struct{})
	go func() {
		q.Quit()
		close(quitDone)
	}()

	// Quit should block until release, since a task is still in flight.
	select {
	case <-quitDone:
		t.Fatal("Quit returned before in-flight task finished")
	case <-time.After(50 * time.Millisecond):
	}

	ok := q.AddTask(worker.Task{Fn: func(args []byte) ([]byte, error) { return nil, nil }})
	assert.False(t, ok, "AddTask should reject new work once Quit has been called")

	close(release)
	<-doneOne
	<-quitDone
}
