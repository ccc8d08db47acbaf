package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Service is a typed descriptor for one (cluster, service) pair a caller
// submits jobs against. It replaces a dynamic-proxy client (spec §9's open
// design question) with an explicit struct and a typed Call method, so
// callers get compile-time checked service names instead of reflection.
type Service struct {
	Name          string
	BaseURL       string
	ClusterID     string
	ClusterSecret string
	HTTPClient    *http.Client
	Poller        *Poller
}

// NewService constructs a Service sharing a single Poller across every Call
// made through it, matching the spec's "multiplexes many outstanding
// call() awaits onto a single background task" design.
func NewService(name, baseURL, clusterID, clusterSecret string, poller *Poller) *Service {
	return &Service{
		Name:          name,
		BaseURL:       baseURL,
		ClusterID:     clusterID,
		ClusterSecret: clusterSecret,
		HTTPClient:    http.DefaultClient,
		Poller:        poller,
	}
}

// CallResult is the resolved value of a successful Call (spec §7). A
// rejection, a stalled job, or a transport failure is returned as Call's
// error instead.
type CallResult struct {
	Result     []byte
	ResultType domain.ResultType
}

type createJobWireRequest struct {
	Service                string  `json:"service"`
	TargetFn               string  `json:"targetFn"`
	TargetArgs             []byte  `json:"targetArgs"`
	IdempotencyKey         string  `json:"idempotencyKey"`
	CacheKey               *string `json:"cacheKey,omitempty"`
	CacheTTLSeconds        *int    `json:"cacheTtlSeconds,omitempty"`
	TimeoutIntervalSeconds *int    `json:"timeoutIntervalSeconds,omitempty"`
	PredictiveRetries      bool    `json:"predictiveRetries,omitempty"`
}

type createJobWireResponse struct {
	ID string `json:"id"`
}

// CallOptions carries the optional per-call fields spec.md lets admission
// accept (cache key reuse, custom timeout, predictive retry opt-in).
type CallOptions struct {
	CacheKey               *string
	CacheTTLSeconds        *int
	TimeoutIntervalSeconds *int
	PredictiveRetries      bool
}

// Call submits (targetFn, args) as a job and blocks until it resolves,
// rejects, or the ctx is cancelled. idempotencyKey must be unique per
// logical invocation so retried calls don't double-admit (spec §3).
func (s *Service) Call(ctx context.Context, targetFn string, args []byte, idempotencyKey string, opts CallOptions) (CallResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	jobID, err := s.admit(ctx, targetFn, args, idempotencyKey, opts)
	if err != nil {
		return CallResult{}, err
	}

	resultCh := make(chan CallResult, 1)
	errCh := make(chan error, 1)
	s.Poller.Await(jobID, func(job jobView, err error) {
		if err != nil {
			errCh <- err
			return
		}
		if job.Status == domain.JobFailure {
			errCh <- fmt.Errorf("op=client.call: job %s stalled and exhausted retries", jobID)
			return
		}
		rt := domain.ResultResolution
		if job.ResultType != nil {
			rt = *job.ResultType
		}
		resultCh <- CallResult{Result: job.Result, ResultType: rt}
	})

	select {
	case <-ctx.Done():
		return CallResult{}, ctx.Err()
	case err := <-errCh:
		return CallResult{}, err
	case res := <-resultCh:
		if res.ResultType == domain.ResultRejection {
			return CallResult{}, fmt.Errorf("op=client.call: rejection: %s", string(res.Result))
		}
		return res, nil
	}
}

func (s *Service) admit(ctx context.Context, targetFn string, args []byte, idempotencyKey string, opts CallOptions) (string, error) {
	body, err := json.Marshal(createJobWireRequest{
		Service:                s.Name,
		TargetFn:               targetFn,
		TargetArgs:             args,
		IdempotencyKey:         idempotencyKey,
		CacheKey:               opts.CacheKey,
		CacheTTLSeconds:        opts.CacheTTLSeconds,
		TimeoutIntervalSeconds: opts.TimeoutIntervalSeconds,
		PredictiveRetries:      opts.PredictiveRetries,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.ClusterSecret)
	req.Header.Set("X-Cluster-Id", s.ClusterID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("op=client.admit: status %d", resp.StatusCode)
	}

	var out createJobWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("op=client.admit.decode: %w", err)
	}
	return out.ID, nil
}

func (s *Service) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// DefaultCallTimeout bounds how long a Call waits when the caller's ctx
// carries no deadline, matching the 20s default long-poll budget (spec §5).
const DefaultCallTimeout = 20 * time.Second
