package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mikububu/readings-engine/internal/api/shared"
	"github.com/mikububu/readings-engine/internal/pipeline"
	"github.com/mikububu/readings-engine/internal/redact"
	"github.com/mikububu/readings-engine/internal/service"
	"github.com/mikububu/readings-engine/internal/store"
)

// SectionRequest names one section of the requested reading.
type SectionRequest struct {
	Name       string `json:"name"        validate:"required,min=1"`
	Category   string `json:"category"`
	DocumentID string `json:"document_id"`
}

// CreateJobRequest represents the request body for submitting a reading job.
type CreateJobRequest struct {
	Subject  string           `json:"subject"  validate:"required,min=1"`
	Voice    string           `json:"voice"`
	Sections []SectionRequest `json:"sections" validate:"required,min=1,dive"`
}

// JobResponse represents the response data for a job.
type JobResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	FailedTasks    int       `json:"failed_tasks"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	jobService *service.JobService
	validator  *validator.Validate
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		validator:  validator.New(),
	}
}

// CreateJob handles POST /jobs requests: it submits a reading job and
// returns 202 Accepted, since all the work happens asynchronously.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	sections := make([]pipeline.SectionSpec, 0, len(req.Sections))
	for _, s := range req.Sections {
		sections = append(sections, pipeline.SectionSpec{
			Name:       s.Name,
			Category:   s.Category,
			DocumentID: s.DocumentID,
		})
	}

	job, err := h.jobService.SubmitReading(r.Context(), pipeline.ReadingParams{
		Subject:  req.Subject,
		Voice:    req.Voice,
		Sections: sections,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, JobResponse{
		ID:         job.ID.String(),
		Type:       job.Type,
		Status:     string(job.Status),
		TotalTasks: len(sections),
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	})
}

// GetJob handles GET /jobs/{id} requests: status, aggregate progress, and
// the most recent task error, readable at any time without blocking
// in-flight workers.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job id")
		return
	}

	progress, err := h.jobService.GetProgress(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, progressToResponse(progress))
}

// progressToResponse converts a store.JobProgress to a JobResponse.
// Task error messages are recorded verbatim server-side and may embed
// vendor hosts or SQL; they are redacted before leaving the process.
func progressToResponse(progress *store.JobProgress) JobResponse {
	return JobResponse{
		ID:             progress.Job.ID.String(),
		Type:           progress.Job.Type,
		Status:         string(progress.Job.Status),
		TotalTasks:     progress.TotalTasks,
		CompletedTasks: progress.CompletedTasks,
		FailedTasks:    progress.FailedTasks,
		LastError:      redact.String(progress.LastTaskError),
		CreatedAt:      progress.Job.CreatedAt,
		UpdatedAt:      progress.Job.UpdatedAt,
	}
}
