package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/cash-audit/internal/api/middleware"
	"github.com/dvloznov/cash-audit/internal/audit"
	"github.com/dvloznov/cash-audit/internal/ingest"
	"github.com/dvloznov/cash-audit/internal/jobs"
	"github.com/dvloznov/cash-audit/internal/logger"
	"github.com/dvloznov/cash-audit/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// MaxUploadSize caps the size of an uploaded transaction export.
const MaxUploadSize = 10 << 20

// BatchesHandler handles transaction batch endpoints.
type BatchesHandler struct {
	ws        *audit.Workspace
	store     storage.Service
	publisher jobs.Publisher
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewBatchesHandler creates a new batches handler. store may be nil, which
// disables GCS import.
func NewBatchesHandler(ws *audit.Workspace, store storage.Service, publisher jobs.Publisher, log zerolog.Logger) *BatchesHandler {
	return &BatchesHandler{
		ws:        ws,
		store:     store,
		publisher: publisher,
		validate:  validator.New(),
		log:       log,
	}
}

// Upload handles POST /api/batches. The body is either raw CSV or a
// multipart form with the export in the "file" field.
func (h *BatchesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)

	raw, err := readExport(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.load(w, r, raw)
}

// LoadSample handles POST /api/batches/sample
func (h *BatchesHandler) LoadSample(w http.ResponseWriter, r *http.Request) {
	h.load(w, r, ingest.SampleDataset)
}

// Import handles POST /api/batches/import
func (h *BatchesHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "GCS import is not configured")
		return
	}

	var req struct {
		GCSURI string `json:"gcs_uri" validate:"required,startswith=gs://"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "gcs_uri must be a gs:// URI")
		return
	}

	log := logger.FromContext(r.Context())

	data, err := h.store.Fetch(r.Context(), req.GCSURI)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidURI) {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("gcs_uri", req.GCSURI).Msg("Failed to fetch export")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch export")
		return
	}

	log.Info().
		Str("file", storage.ExtractFilename(req.GCSURI)).
		Int("bytes", len(data)).
		Msg("Export fetched")

	h.load(w, r, string(data))
}

func (h *BatchesHandler) load(w http.ResponseWriter, r *http.Request, raw string) {
	batch, err := h.ws.Load(raw)
	if err != nil {
		writeWorkspaceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"batch_id": batch.ID,
		"count":    len(batch.Transactions),
	})
}

// Current handles GET /api/batches/current
func (h *BatchesHandler) Current(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ws.Snapshot()
	if err != nil {
		writeWorkspaceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, snap)
}

// Reconcile handles POST /api/batches/current/reconcile
func (h *BatchesHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.ws.Reconcile()
	if err != nil {
		writeWorkspaceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, res)
}

// Analyze handles POST /api/batches/current/analyze. Analysis runs as a
// background job; the response carries the job ID to poll.
func (h *BatchesHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ws.Snapshot()
	if err != nil {
		writeWorkspaceError(w, r, err)
		return
	}
	if snap.Busy {
		writeWorkspaceError(w, r, audit.ErrBusy)
		return
	}

	log := logger.FromContext(r.Context())

	job := &jobs.AnalyzeBatchJob{BatchID: snap.Batch.ID}
	if err := h.publisher.PublishAnalyzeBatch(r.Context(), job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue analysis job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue analysis job")
		return
	}

	log.Info().
		Str("job_id", job.JobID).
		Str("batch_id", job.BatchID).
		Msg("Analysis job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   job.JobID,
		"batch_id": job.BatchID,
		"status":   string(jobs.JobStatusPending),
	})
}

// readExport returns the CSV text of a request, from the multipart "file"
// field or the raw body.
func readExport(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return string(data), nil
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("file field is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// writeWorkspaceError maps workspace errors to HTTP statuses.
func writeWorkspaceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrEmptyBatch):
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, audit.ErrBusy):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, audit.ErrNoBatch):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, audit.ErrStaleBatch):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Workspace operation failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		BatchID: query.Get("batch_id"),
		Status:  jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// jobIDFromPath extracts the job ID from /api/jobs/{id}.
func jobIDFromPath(path string) string {
	return strings.Trim(strings.TrimPrefix(path, "/api/jobs/"), "/")
}
