package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/usecase"
)

var validate = validator.New()

// Server holds the dependencies the HTTP handlers need: the use case
// services, cluster lookup for auth, and the repositories the read-only
// admin surface queries directly.
type Server struct {
	Admission  *usecase.AdmissionService
	Dispatch   *usecase.DispatchService
	ResultSink *usecase.ResultSinkService
	Status     *usecase.StatusService
	Clusters   domain.ClusterRepository
	Jobs       domain.JobRepository
}

type createJobRequest struct {
	Service                string  `json:"service" validate:"required"`
	TargetFn               string  `json:"targetFn" validate:"required"`
	TargetArgs             []byte  `json:"targetArgs"`
	IdempotencyKey         string  `json:"idempotencyKey" validate:"required"`
	CacheKey               *string `json:"cacheKey,omitempty"`
	CacheTTLSeconds        *int    `json:"cacheTtlSeconds,omitempty"`
	RetryCountOnStall      *int    `json:"retryCountOnStall,omitempty"`
	TimeoutIntervalSeconds *int    `json:"timeoutIntervalSeconds,omitempty"`
	PredictiveRetries      bool    `json:"predictiveRetries,omitempty"`
}

type jobResponse struct {
	ID                string `json:"id"`
	Service           string `json:"service"`
	TargetFn          string `json:"targetFn"`
	TargetArgs        []byte `json:"targetArgs,omitempty"`
	Status            string `json:"status"`
	Outcome           string `json:"outcome"`
	Result            []byte `json:"result,omitempty"`
	ResultType        string `json:"resultType,omitempty"`
	RemainingAttempts int    `json:"remainingAttempts"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

func toJobResponse(j domain.Job) jobResponse {
	resultType := ""
	if j.ResultType != nil {
		resultType = string(*j.ResultType)
	}
	return jobResponse{
		ID:                j.ID,
		Service:           j.Service,
		TargetFn:          j.TargetFn,
		TargetArgs:        j.TargetArgs,
		Status:            string(j.Status),
		Outcome:           string(domain.DeriveOutcome(j.Status, j.ResultType)),
		Result:            j.Result,
		ResultType:        resultType,
		RemainingAttempts: j.RemainingAttempts,
		CreatedAt:         j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         j.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateJobHandler implements POST /v1/jobs (spec §4.1, §6).
func (s *Server) CreateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clusterID := ClusterIDFromContext(r.Context())
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrInvalidArgument, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, domain.ErrInvalidArgument, err.Error())
			return
		}

		job, err := s.Admission.CreateJob(r.Context(), clusterID, usecase.CreateJobRequest{
			Service:                req.Service,
			TargetFn:               req.TargetFn,
			TargetArgs:             req.TargetArgs,
			IdempotencyKey:         req.IdempotencyKey,
			CacheKey:               req.CacheKey,
			CacheTTLSeconds:        req.CacheTTLSeconds,
			RetryCountOnStall:      req.RetryCountOnStall,
			TimeoutIntervalSeconds: req.TimeoutIntervalSeconds,
			PredictiveRetries:      req.PredictiveRetries,
		})
		if err != nil && job.ID == "" {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, toJobResponse(job))
	}
}

type nextJobsRequest struct {
	Service   string `json:"service" validate:"required"`
	MachineID string `json:"machineId" validate:"required"`
	Limit     int    `json:"limit"`
}

// NextJobsHandler implements POST /v1/jobs/next, the worker poll/claim
// endpoint (spec §4.2, §6).
func (s *Server) NextJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clusterID := ClusterIDFromContext(r.Context())
		var req nextJobsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrInvalidArgument, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, domain.ErrInvalidArgument, err.Error())
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 1
		}

		jobs, err := s.Dispatch.NextJobs(r.Context(), clusterID, req.Service, req.MachineID, clientIP(r), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]jobResponse, len(jobs))
		for i, j := range jobs {
			out[i] = toJobResponse(j)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type postResultRequest struct {
	Result     []byte `json:"result"`
	ResultType string `json:"resultType" validate:"required,oneof=resolution rejection"`
	ExecMs     *int64 `json:"executionTimeMs,omitempty"`
}

// PostResultHandler implements POST /v1/jobs/{id}/result (spec §4.3, §6).
func (s *Server) PostResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clusterID := ClusterIDFromContext(r.Context())
		jobID := SanitizeJobID(chi.URLParam(r, "id"))
		var req postResultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrInvalidArgument, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, domain.ErrInvalidArgument, err.Error())
			return
		}

		if err := s.ResultSink.PostResult(r.Context(), clusterID, jobID, req.Result, domain.ResultType(req.ResultType), req.ExecMs); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Long-poll wait bounds per spec §4.4/§8: a supplied wait is clipped to
// [5000, 20000] ms (so wait=0 waits 5000 ms). No default wait applies: a
// request without a wait parameter is answered at once, without long-polling.
const (
	minLongPollWaitMs = 5000
	maxLongPollWaitMs = 20000
)

func clampLongPollWait(waitMs int) time.Duration {
	switch {
	case waitMs < minLongPollWaitMs:
		waitMs = minLongPollWaitMs
	case waitMs > maxLongPollWaitMs:
		waitMs = maxLongPollWaitMs
	}
	return time.Duration(waitMs) * time.Millisecond
}

// GetStatusesHandler implements GET /v1/jobs/status?ids=a,b,c (spec §4.4).
// When `wait` is supplied (milliseconds), it bounds-long-polls until any
// requested job is terminal or the (clipped) wait elapses.
func (s *Server) GetStatusesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clusterID := ClusterIDFromContext(r.Context())
		idsParam := r.URL.Query().Get("ids")
		if idsParam == "" {
			writeError(w, r, domain.ErrInvalidArgument, "ids query param required")
			return
		}
		ids := strings.Split(idsParam, ",")
		for _, id := range ids {
			if res := ValidateJobID(id); !res.Valid {
				writeError(w, r, domain.ErrInvalidArgument, res.Errors)
				return
			}
		}

		var jobs []domain.Job
		var err error
		if waitParam := r.URL.Query().Get("wait"); waitParam != "" {
			waitMs, convErr := strconv.Atoi(waitParam)
			if convErr != nil || waitMs < 0 {
				writeError(w, r, domain.ErrInvalidArgument, "wait must be a non-negative integer")
				return
			}
			jobs, err = s.Status.AwaitStatuses(r.Context(), clusterID, ids, clampLongPollWait(waitMs))
		} else {
			jobs, err = s.Status.GetStatuses(r.Context(), clusterID, ids)
		}
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]jobResponse, len(jobs))
		for i, j := range jobs {
			out[i] = toJobResponse(j)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type jobListResponse struct {
	Jobs       []jobResponse  `json:"jobs"`
	Pagination paginationMeta `json:"pagination"`
}

type paginationMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// ListJobsHandler implements GET /v1/clusters/{id}/jobs, a read-only
// operational surface for inspecting a cluster's job history by status
// and a free-text search, mirroring the teacher's admin job listing. The
// {id} path segment is documentation only: the cluster actually queried is
// always the one ClusterAuth authenticated, so a caller can never list
// another cluster's jobs by editing the URL.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clusterID := ClusterIDFromContext(r.Context())

		q := r.URL.Query()
		page, limit := q.Get("page"), q.Get("limit")
		if res := ValidatePagination(page, limit); !res.Valid {
			writeError(w, r, domain.ErrInvalidArgument, res.Errors)
			return
		}
		search := SanitizeString(q.Get("search"))
		if res := ValidateSearchQuery(search); !res.Valid {
			writeError(w, r, domain.ErrInvalidArgument, res.Errors)
			return
		}
		status := q.Get("status")
		if res := ValidateStatus(status); !res.Valid {
			writeError(w, r, domain.ErrInvalidArgument, res.Errors)
			return
		}

		pageNum, limitNum := 1, 20
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			pageNum = p
		}
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 100 {
			limitNum = l
		}
		offset := (pageNum - 1) * limitNum

		jobs, err := s.Jobs.ListWithFilters(r.Context(), clusterID, offset, limitNum, search, status)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		total, err := s.Jobs.CountWithFilters(r.Context(), clusterID, search, status)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		out := make([]jobResponse, len(jobs))
		for i, j := range jobs {
			out[i] = toJobResponse(j)
		}
		writeJSON(w, http.StatusOK, jobListResponse{
			Jobs:       out,
			Pagination: paginationMeta{Page: pageNum, Limit: limitNum, Total: total},
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
