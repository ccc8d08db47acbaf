package worker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/worker"
)

// fakeControlPlane serves /v1/jobs/next with a single fixed batch of jobs
// the first time it's called, then an empty batch, and records every
// /v1/jobs/{id}/result post it receives.
type fakeControlPlane struct {
	mu       sync.Mutex
	served   bool
	authHdr  string
	clusterHdr string
	results  []map[string]any
}

func (f *fakeControlPlane) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs/next", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHdr = r.Header.Get("Authorization")
		f.clusterHdr = r.Header.Get("X-Cluster-Id")
		served := f.served
		f.served = true
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if served {
			_ = json.NewEncoder(w).Encode([]any{})
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "job-1", "targetFn": "echo", "targetArgs": []byte("hi")},
			{"id": "job-2", "targetFn": "unregistered", "targetArgs": []byte("x")},
		})
	})
	mux.HandleFunc("/v1/jobs/job-1/result", f.recordResult)
	mux.HandleFunc("/v1/jobs/job-2/result", f.recordResult)
	return httptest.NewServer(mux)
}

func (f *fakeControlPlane) recordResult(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.results = append(f.results, body)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeControlPlane) resultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func (f *fakeControlPlane) headers() (auth, cluster string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authHdr, f.clusterHdr
}

func (f *fakeControlPlane) resultsSnapshot() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.results))
	copy(out, f.results)
	return out
}

func TestAgent_DispatchesRegisteredAndRejectsUnregistered(t *testing.T) {
	fcp := &fakeControlPlane{}
	srv := fcp.server()
	defer srv.Close()

	registry := worker.NewRegistry()
	require.NoError(t, registry.Register("echo", worker.Registration{
		Fn:      func(args []byte) ([]byte, error) { return args, nil },
		Service: "svc",
	}))

	queue := worker.NewTaskQueue(4)
	agent := &worker.Agent{
		BaseURL:           srv.URL,
		ClusterID:         "cluster-1",
		ClusterSecret:     "secret-1",
		MachineID:         "machine-1",
		Service:           "svc",
		Registry:          registry,
		Queue:             queue,
		PollThrottle:      10 * time.Millisecond,
		KeepaliveSeconds:  2,
		MaxConsecutiveErr: 5,
		MaxIdleCycles:     3,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	agent.Run(ctx)

	assert.Eventually(t, func() bool { return fcp.resultCount() >= 2 }, time.Second, 10*time.Millisecond)
	auth, cluster := fcp.headers()
	assert.Equal(t, "Bearer secret-1", auth)
	assert.Equal(t, "cluster-1", cluster)

	var gotRejection bool
	for _, r := range fcp.resultsSnapshot() {
		if r["resultType"] == "rejection" {
			gotRejection = true
		}
	}
	assert.True(t, gotRejection, "unregistered function should post a rejection result")
}

func TestAgent_AbortsOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	agent := &worker.Agent{
		BaseURL:           srv.URL,
		ClusterSecret:     "bad-secret",
		Service:           "svc",
		Registry:          worker.NewRegistry(),
		Queue:             worker.NewTaskQueue(1),
		PollThrottle:      10 * time.Millisecond,
		KeepaliveSeconds:  1,
		MaxConsecutiveErr: 100,
	}

	done := make(chan struct{})
	go func() {
		agent.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("agent did not abort on 401")
	}
}

func TestAgent_SelfTerminatesAfterMaxConsecutiveErrors(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	agent := &worker.Agent{
		BaseURL:           srv.URL,
		ClusterSecret:     "secret",
		Service:           "svc",
		Registry:          worker.NewRegistry(),
		Queue:             worker.NewTaskQueue(1),
		PollThrottle:      5 * time.Millisecond,
		KeepaliveSeconds:  1,
		MaxConsecutiveErr: 3,
	}

	done := make(chan struct{})
	go func() {
		agent.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not self-terminate after repeated errors")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt64(&calls), int64(3))
}

func TestAgent_QuitStopsPollingAndDrainsInFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	defer srv.Close()

	agent := &worker.Agent{
		BaseURL:           srv.URL,
		ClusterSecret:     "secret",
		Service:           "svc",
		Registry:          worker.NewRegistry(),
		Queue:             worker.NewTaskQueue(1),
		PollThrottle:      10 * time.Millisecond,
		KeepaliveSeconds:  1,
		MaxConsecutiveErr: 100,
		ShutdownSpin:      10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(runDone)
	}()

	time.Sleep(30 * time.Millisecond)

	quitDone := make(chan struct{})
	go func() {
		agent.Quit()
		close(quitDone)
	}()

	select {
	case <-quitDone:
	case <-time.After(time.Second):
		t.Fatal("Quit did not return")
	}
	<-runDone
}
