package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/scry-jobs/internal/api/shared"
	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/service"
)

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	JobID         string          `json:"jobId" validate:"omitempty,max=128"`
	TaskType      string          `json:"taskType" validate:"required,max=64"`
	CorrelationID string          `json:"correlationId" validate:"omitempty,max=128"`
	Payload       json.RawMessage `json:"payload"`
}

// CreateJobResponse acknowledges a queued job.
type CreateJobResponse struct {
	JobID   string           `json:"jobId"`
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// JobResponse is the client view of a job.
type JobResponse struct {
	JobID         string           `json:"jobId"`
	TaskType      string           `json:"taskType"`
	Status        domain.JobStatus `json:"status"`
	Progress      int              `json:"progress"`
	CorrelationID string           `json:"correlationId,omitempty"`
	Result        json.RawMessage  `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	StartedAt     *time.Time       `json:"startedAt,omitempty"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
}

// JobListResponse is a page of jobs.
type JobListResponse struct {
	Count int           `json:"count"`
	Data  []JobResponse `json:"data"`
}

// JobHandler serves the job endpoints.
type JobHandler struct {
	jobs   service.JobService
	logger *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs service.JobService, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger.With("component", "job_handler")}
}

// CreateJob handles POST /api/jobs.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req CreateJobRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	job, err := h.jobs.Submit(r.Context(), userID, service.SubmitRequest{
		ID:            req.JobID,
		TaskType:      req.TaskType,
		CorrelationID: req.CorrelationID,
		Payload:       req.Payload,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	w.Header().Set("Location", "/api/jobs/"+job.ID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: fmt.Sprintf("%s task queued successfully", job.TaskType),
	})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, toJobResponse(job))
}

// CancelJob handles POST /api/jobs/{id}/cancel.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Cancel(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, toJobResponse(job))
}

// ListJobs handles GET /api/jobs. With correlation_id it lists the jobs
// attached to that resource, otherwise the caller's jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	var jobs []*domain.Job
	if correlationID := r.URL.Query().Get("correlation_id"); correlationID != "" {
		jobs, err = h.jobs.ListByCorrelation(r.Context(), userID, correlationID, limit, offset)
	} else {
		jobs, err = h.jobs.ListByOwner(r.Context(), userID, limit, offset)
	}
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	out := JobListResponse{Count: len(jobs), Data: make([]JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		out.Data = append(out.Data, toJobResponse(job))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

func toJobResponse(job *domain.Job) JobResponse {
	return JobResponse{
		JobID:         job.ID,
		TaskType:      job.TaskType,
		Status:        job.Status,
		Progress:      job.Progress,
		CorrelationID: job.CorrelationID,
		Result:        job.Result,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
}
