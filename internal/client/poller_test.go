package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

func newPollerAgainst(srv *httptest.Server, tick time.Duration) *Poller {
	p := NewPoller(srv.URL, "cluster-1", "secret-1")
	p.Tick = tick
	return p
}

func TestPoller_ResolvesOnTerminalStatus(t *testing.T) {
	var gotAuth, gotCluster string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCluster = r.Header.Get("X-Cluster-Id")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]statusEnvelope{
			{ID: "job-1", Status: string(domain.JobSuccess), Outcome: string(domain.OutcomeResolution), Result: []byte("done")},
		})
	}))
	defer srv.Close()

	p := newPollerAgainst(srv, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.Stop()

	resCh := make(chan jobView, 1)
	p.Await("job-1", func(j jobView, err error) {
		require.NoError(t, err)
		resCh <- j
	})

	select {
	case got := <-resCh:
		assert.Equal(t, domain.JobSuccess, got.Status)
		assert.Equal(t, []byte("done"), got.Result)
	case <-time.After(time.Second):
		t.Fatal("poller never resolved job-1")
	}

	assert.Equal(t, "Bearer secret-1", gotAuth)
	assert.Equal(t, "cluster-1", gotCluster)
}

func TestPoller_IgnoresNonTerminalStatusUntilResolved(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			_ = json.NewEncoder(w).Encode([]statusEnvelope{
				{ID: "job-1", Status: string(domain.JobPending), Outcome: string(domain.OutcomePending)},
			})
			return
		}
		_ = json.NewEncoder(w).Encode([]statusEnvelope{
			{ID: "job-1", Status: string(domain.JobSuccess), Outcome: string(domain.OutcomeResolution), Result: []byte("final")},
		})
	}))
	defer srv.Close()

	p := newPollerAgainst(srv, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.Stop()

	resCh := make(chan jobView, 1)
	p.Await("job-1", func(j jobView, err error) {
		require.NoError(t, err)
		resCh <- j
	})

	select {
	case got := <-resCh:
		assert.Equal(t, []byte("final"), got.Result)
	case <-time.After(time.Second):
		t.Fatal("poller never resolved job-1")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestPoller_RateLimitedResponseBacksOffWithoutFailing(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]statusEnvelope{
			{ID: "job-1", Status: string(domain.JobSuccess), Outcome: string(domain.OutcomeResolution)},
		})
	}))
	defer srv.Close()

	p := newPollerAgainst(srv, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go p.Run(ctx)
	defer p.Stop()

	p.Await("job-1", func(j jobView, err error) {})

	// The 429 path sleeps 5s before re-polling, so within this short
	// window we should see exactly one call and no crash/failAll.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPoller_StopIsIdempotentAndWaitsForLoopExit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]statusEnvelope{})
	}))
	defer srv.Close()

	p := newPollerAgainst(srv, 5*time.Millisecond)
	go p.Run(context.Background())

	time.Sleep(20 * time.Millisecond)
	p.Stop()
	p.Stop() // must not panic or block forever on a second call
}
