package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/service"
)

const (
	CodeExecuteSuccess = "CODE-001"
	CodeExecuteFailed  = "CODE-00"
)

// ResponseMessage wraps the outcome of an execute request.
type ResponseMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Error   any    `json:"error"`
}

// ErrorDetail is the error of a failed execute request.
type ErrorDetail struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func executeSuccess(job model.Job) ResponseMessage {
	return ResponseMessage{
		Code:    CodeExecuteSuccess,
		Message: "Execute request process success",
		Data:    job,
	}
}

func executeFailed(kind string, err error) ResponseMessage {
	return ResponseMessage{
		Code:    CodeExecuteFailed,
		Message: "Execute request process failed",
		Error:   ErrorDetail{Error: kind, Message: err.Error()},
	}
}

func (h handler) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("parsing multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("reading file: %w", err))
		return
	}
	defer func() {
		_ = file.Close()
	}()

	client := r.FormValue("client")
	if client == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("client is required"))
		return
	}
	var params model.Params
	if raw := r.FormValue("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("parsing params: %w", err))
			return
		}
	}
	if status := r.FormValue("status"); status != "" {
		// the lifecycle owns the status
		slog.DebugContext(ctx, "ignoring submitted status", "status", status)
	}

	job, err := h.jobs.Submit(ctx, service.Upload{
		Client:    client,
		FileName:  header.Filename,
		Content:   file,
		Extension: r.FormValue("extension"),
		ClassName: r.FormValue("className"),
		Method:    r.FormValue("method"),
		Params:    params,
	})
	switch {
	case errors.Is(err, service.ErrInvalidUpload):
		writeError(w, r, http.StatusBadRequest, err)
		return
	case err != nil && job.JobID == "":
		writeError(w, r, http.StatusInternalServerError, err)
		return
	case err != nil:
		// stored, but the pool refused it
		slog.ErrorContext(ctx, "job submission failed", "job_id", job.JobID, "err", err)
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+job.JobID)
	writeJSON(w, r, http.StatusCreated, job)
}

func (h handler) execute(w http.ResponseWriter, r *http.Request) {
	var spec model.Job
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, r, http.StatusBadRequest, executeFailed("BadRequest", err))
		return
	}
	if spec.Client == "" {
		writeJSON(w, r, http.StatusBadRequest, executeFailed("BadRequest", errors.New("client is required")))
		return
	}
	job, err := h.jobs.Execute(r.Context(), spec)
	if err != nil {
		slog.ErrorContext(r.Context(), "job execution failed", "err", err)
		writeJSON(w, r, http.StatusInternalServerError, executeFailed("ExecutionError", err))
		return
	}
	writeJSON(w, r, http.StatusOK, executeSuccess(job))
}

func (h handler) runAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobs.RunAll(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

func (h handler) get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "*")
	job, err := h.jobs.Get(r.Context(), jobID)
	switch {
	case errors.Is(err, model.ErrJobNotFound):
		writeError(w, r, http.StatusNotFound, fmt.Errorf("job %s: %w", jobID, err))
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, err)
	default:
		writeJSON(w, r, http.StatusOK, job)
	}
}

func (h handler) list(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context(), r.URL.Query().Get("client"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, r, http.StatusOK, jobs)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "writing response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	slog.DebugContext(r.Context(), "request failed", "status", status, "err", err)
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}
