// Package client provides the caller-side SDK for submitting jobs to the
// control plane and awaiting their results (spec §4.9): a batching results
// poller and a typed service descriptor built on top of it.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// ResultCallback receives the terminal outcome of one job.
type ResultCallback func(job jobView, err error)

type jobView struct {
	Status     domain.JobStatus
	Outcome    domain.Outcome
	Result     []byte
	ResultType *domain.ResultType
}

type pendingCall struct {
	attempts int
	onResult ResultCallback
}

// Poller multiplexes many outstanding status awaits onto a single
// background tick that batches getJobStatuses calls (spec §4.9). One
// Poller is normally shared by every Call made through a Service.
type Poller struct {
	BaseURL       string
	ClusterID     string
	ClusterSecret string
	HTTPClient    *http.Client
	Tick          time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCall

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

type statusEnvelope struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Outcome    string  `json:"outcome"`
	Result     []byte  `json:"result,omitempty"`
	ResultType *string `json:"resultType,omitempty"`
}

// NewPoller constructs a Poller with the given control-plane base URL and
// cluster credentials. Tick defaults to 100ms (spec §4.9) when zero.
func NewPoller(baseURL, clusterID, clusterSecret string) *Poller {
	return &Poller{
		BaseURL:       baseURL,
		ClusterID:     clusterID,
		ClusterSecret: clusterSecret,
		HTTPClient:    http.DefaultClient,
		Tick:          100 * time.Millisecond,
		pending:       make(map[string]*pendingCall),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Await registers jobID for polling; onResult fires exactly once, either
// when the job reaches a terminal outcome or when the poller gives up on
// it after too many consecutive error cycles. A 429 response only pauses
// polling for 5s; it never fails the await.
func (p *Poller) Await(jobID string, onResult ResultCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[jobID] = &pendingCall{onResult: onResult}
}

// Run drives the polling ticker until Stop is called or ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.doneCh)

	tick := p.Tick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	errorCycles := 0

	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-t.C:
		}

		ids := p.unresolvedIDs()
		if len(ids) == 0 {
			errorCycles = 0
			continue
		}

		statuses, status, err := p.fetchStatuses(ctx, ids)
		switch {
		case status == http.StatusTooManyRequests:
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		case err != nil:
			errorCycles++
			if errorCycles >= 50 {
				p.failAll(fmt.Errorf("too many network errors"))
				errorCycles = 0
			}
			continue
		default:
			errorCycles = 0
			p.dispatch(statuses)
		}
	}
}

// Stop sets the exit flag and awaits the in-flight tick (spec §4.9).
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

func (p *Poller) unresolvedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	return ids
}

func (p *Poller) failAll(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*pendingCall)
	p.mu.Unlock()

	for _, call := range pending {
		call.onResult(jobView{}, err)
	}
}

func (p *Poller) dispatch(statuses []statusEnvelope) {
	p.mu.Lock()
	resolved := make(map[string]*pendingCall)
	for _, s := range statuses {
		call, ok := p.pending[s.ID]
		if !ok {
			continue
		}
		terminal := s.Status == string(domain.JobSuccess) || s.Status == string(domain.JobFailure)
		if terminal {
			resolved[s.ID] = call
			delete(p.pending, s.ID)
		}
	}
	p.mu.Unlock()

	for id, call := range resolved {
		var view jobView
		for _, s := range statuses {
			if s.ID != id {
				continue
			}
			view = jobView{
				Status:  domain.JobStatus(s.Status),
				Outcome: domain.Outcome(s.Outcome),
				Result:  s.Result,
			}
			if s.ResultType != nil {
				rt := domain.ResultType(*s.ResultType)
				view.ResultType = &rt
			}
		}
		call.onResult(view, nil)
	}
}

func (p *Poller) fetchStatuses(ctx context.Context, ids []string) ([]statusEnvelope, int, error) {
	url := p.BaseURL + "/v1/jobs/status?ids=" + strings.Join(ids, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.ClusterSecret)
	req.Header.Set("X-Cluster-Id", p.ClusterID)

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("op=client.poll_statuses: status %d", resp.StatusCode)
	}

	var out []statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("op=client.poll_statuses.decode: %w", err)
	}
	return out, resp.StatusCode, nil
}

func (p *Poller) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}
