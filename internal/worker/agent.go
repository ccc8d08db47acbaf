package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Agent is the worker polling loop (spec §4.8): it repeatedly asks the
// control plane's Dispatcher for claimable jobs scoped to one service,
// runs each claimed job on a TaskQueue, and posts results back.
type Agent struct {
	BaseURL       string
	ClusterID     string
	ClusterSecret string
	MachineID     string
	Service       string

	Registry *Registry
	Queue    *TaskQueue

	HTTPClient *http.Client

	PollThrottle      time.Duration
	KeepaliveSeconds  int
	MaxConsecutiveErr int
	ShutdownSpin      time.Duration
	// MaxIdleCycles enables serverless idle shutdown (spec §6) when > 0.
	MaxIdleCycles int

	// Classifier decides whether a poll error should count toward
	// MaxConsecutiveErr or abort the agent immediately; defaults to
	// domain.NewDefaultRetryClassifier() when nil.
	Classifier domain.RetryClassifier
	// Backoff tunes the exponential backoff used when posting a result
	// back to the control plane; defaults to domain.DefaultBackoffConfig()
	// when its Multiplier is zero.
	Backoff domain.BackoffConfig

	current        int64
	errorCount     int
	idleCycleCount int
	pollingAborted atomic.Bool
	quitRequested  atomic.Bool
	cancelInFlight context.CancelFunc
	cancelMu       sync.Mutex
}

type claimedJob struct {
	ID         string `json:"id"`
	TargetFn   string `json:"targetFn"`
	TargetArgs []byte `json:"targetArgs"`
}

// Run executes the poll loop until ctx is cancelled, the agent aborts on a
// 401, or it self-terminates after MaxConsecutiveErr consecutive errors.
func (a *Agent) Run(ctx context.Context) {
	defer a.pollingAborted.Store(true)

	for {
		if ctx.Err() != nil || a.quitRequested.Load() {
			return
		}

		capacity := a.Queue.Capacity()
		running := int(atomic.LoadInt64(&a.current))
		if capacity-running <= 0 {
			a.sleepThrottle(ctx)
			continue
		}
		limit := (capacity - running + 1) / 2
		if limit < 1 {
			limit = 1
		}

		jobs, status, err := a.pollOnce(ctx, limit)
		switch {
		case status == http.StatusUnauthorized:
			slog.Error("worker agent unauthorized; aborting", slog.String("service", a.Service))
			return
		case err != nil:
			if !a.classifier().ShouldRetry(err) {
				slog.Error("worker agent hit a non-retryable poll error; aborting", slog.Any("error", err))
				return
			}
			a.errorCount++
			slog.Warn("worker poll failed", slog.Any("error", err), slog.Int("consecutive_errors", a.errorCount))
			if a.errorCount >= a.MaxConsecutiveErr {
				slog.Error("worker agent exceeded max consecutive errors; self-terminating",
					slog.Int("errors", a.errorCount))
				return
			}
		default:
			a.errorCount = 0
			if len(jobs) == 0 {
				a.idleCycleCount++
				if a.MaxIdleCycles > 0 && a.idleCycleCount >= a.MaxIdleCycles {
					slog.Info("worker agent idle shutdown", slog.Int("idle_cycles", a.idleCycleCount))
					return
				}
			} else {
				a.idleCycleCount = 0
				a.dispatch(jobs)
			}
		}

		a.sleepThrottle(ctx)
	}
}

func (a *Agent) dispatch(jobs []claimedJob) {
	for _, j := range jobs {
		reg, ok := a.Registry.Lookup(j.TargetFn)
		if !ok {
			a.postResult(context.Background(), j.ID, TaskResult{
				Type:    domain.ResultRejection,
				Content: []byte("Function was not registered"),
			})
			continue
		}
		atomic.AddInt64(&a.current, 1)
		jobID := j.ID
		a.Queue.AddTask(Task{
			Fn:   reg.Fn,
			Args: j.TargetArgs,
			OnComplete: func(res TaskResult) {
				atomic.AddInt64(&a.current, -1)
				a.postResult(context.Background(), jobID, res)
			},
		})
	}
}

func (a *Agent) sleepThrottle(ctx context.Context) {
	t := a.PollThrottle
	if t <= 0 {
		t = 2 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(t):
	}
}

// Quit aborts any in-flight poll request, stops the task queue from
// accepting new work, drains in-flight tasks, then spin-waits until the
// poll loop observes pollingAborted (spec §4.8 quit protocol).
func (a *Agent) Quit() {
	a.quitRequested.Store(true)
	a.cancelMu.Lock()
	if a.cancelInFlight != nil {
		a.cancelInFlight()
	}
	a.cancelMu.Unlock()

	a.Queue.Quit()

	spin := a.ShutdownSpin
	if spin <= 0 {
		spin = 500 * time.Millisecond
	}
	for !a.pollingAborted.Load() {
		time.Sleep(spin)
	}
}

func (a *Agent) pollOnce(ctx context.Context, limit int) ([]claimedJob, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(a.keepaliveSeconds())*time.Second)
	a.cancelMu.Lock()
	a.cancelInFlight = cancel
	a.cancelMu.Unlock()
	defer cancel()

	body, _ := json.Marshal(map[string]any{
		"service":   a.Service,
		"machineId": a.MachineID,
		"limit":     limit,
	})
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.BaseURL+"/v1/jobs/next", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	a.authenticate(req)

	resp, err := a.client().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("op=worker.poll: status %d: %s", resp.StatusCode, string(respBody))
	}

	var jobs []claimedJob
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("op=worker.poll.decode: %w", err)
	}
	return jobs, resp.StatusCode, nil
}

func (a *Agent) postResult(ctx context.Context, jobID string, res TaskResult) {
	op := func() error {
		body, _ := json.Marshal(map[string]any{
			"result":          res.Content,
			"resultType":      string(res.Type),
			"executionTimeMs": res.FunctionExecutionTime.Milliseconds(),
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/jobs/"+jobID+"/result", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		a.authenticate(req)

		resp, err := a.client().Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("op=worker.post_result: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("op=worker.post_result: status %d", resp.StatusCode))
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	cfg := a.backoffConfig()
	expo.InitialInterval = cfg.InitialInterval
	expo.MaxInterval = cfg.MaxInterval
	expo.Multiplier = cfg.Multiplier
	b := backoff.WithMaxRetries(expo, 5)
	if err := backoff.Retry(op, b); err != nil {
		slog.Error("worker failed to post job result", slog.String("job_id", jobID), slog.Any("error", err))
	}
}

func (a *Agent) classifier() domain.RetryClassifier {
	if a.Classifier != nil {
		return a.Classifier
	}
	return domain.NewDefaultRetryClassifier()
}

func (a *Agent) backoffConfig() domain.BackoffConfig {
	if a.Backoff.Multiplier > 0 {
		return a.Backoff
	}
	return domain.DefaultBackoffConfig()
}

func (a *Agent) authenticate(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.ClusterSecret)
	req.Header.Set("X-Cluster-Id", a.ClusterID)
	req.Header.Set("Content-Type", "application/json")
}

func (a *Agent) client() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *Agent) keepaliveSeconds() int {
	if a.KeepaliveSeconds <= 0 {
		return 10
	}
	return a.KeepaliveSeconds
}
