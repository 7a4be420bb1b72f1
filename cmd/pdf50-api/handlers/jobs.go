// Package handlers provides the HTTP handlers for the pdf50 API.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/observability"
)

// Starter launches the pipeline for a freshly created job.
type Starter interface {
	Start(j *job.Job)
}

// JobsHandler owns the job lifecycle routes.
type JobsHandler struct {
	logger   *observability.Logger
	registry *job.Registry
	starter  Starter
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(logger *observability.Logger, registry *job.Registry, starter Starter) *JobsHandler {
	return &JobsHandler{
		logger:   logger,
		registry: registry,
		starter:  starter,
	}
}

// CreateJobRequestDTO carries the inputs for a new job. SourceIsTemp marks
// the source directory as an upload staging area to delete once the job
// finishes.
type CreateJobRequestDTO struct {
	SourcePath   string `json:"source_path"`
	OutputPath   string `json:"output_path"`
	Mode         string `json:"mode,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	SourceIsTemp bool   `json:"source_is_temp,omitempty"`
}

// JobCreatedDTO identifies the accepted job.
type JobCreatedDTO struct {
	JobID string `json:"job_id"`
	Mode  string `json:"mode"`
}

// JobListDTO wraps the job summaries, newest first.
type JobListDTO struct {
	Jobs []job.Snapshot `json:"jobs"`
}

// StatusDTO acknowledges an operation that cannot fail.
type StatusDTO struct {
	Status string `json:"status"`
}

// Create validates the request, registers the job and launches its
// pipeline. The 202 returns before any work has happened; progress is
// observed through the event stream.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	src := strings.TrimSpace(req.SourcePath)
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "source_path is not a directory", "")
		return
	}
	out := strings.TrimSpace(req.OutputPath)
	if out == "" {
		writeError(w, http.StatusBadRequest, "output_path is required", "")
		return
	}
	if strings.TrimSpace(req.Mode) == "" {
		req.Mode = string(job.ModeUnified)
	}
	mode, err := job.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mode", err.Error())
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = filepath.Base(filepath.Clean(src))
	}

	j := h.registry.Create(job.CreateParams{
		Mode:            mode,
		SourcePath:      src,
		OutputPath:      out,
		DisplayName:     name,
		TransientSource: req.SourceIsTemp,
	})
	h.starter.Start(j)

	h.logger.Info().
		Str("job_id", j.ID).
		Str("mode", string(mode)).
		Str("source", src).
		Msg("Job accepted")

	writeJSON(w, http.StatusAccepted, JobCreatedDTO{JobID: j.ID, Mode: string(mode)})
}

// List returns summaries of every known job, newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JobListDTO{Jobs: h.registry.List()})
}

// Get returns the current snapshot of one job.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, ok := h.registry.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

// Cancel requests cooperative cancellation. Cancelling is idempotent and
// never fails, unknown ids included; the job still runs to its next
// checkpoint before winding down.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	h.registry.Cancel(id)
	h.logger.Info().Str("job_id", id).Msg("Cancellation requested")
	writeJSON(w, http.StatusOK, StatusDTO{Status: "ok"})
}
