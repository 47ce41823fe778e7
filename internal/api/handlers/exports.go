package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/jobs"
	"github.com/nextconvert/editor/internal/shared/storage"
)

const downloadURLExpiry = 15 * time.Minute

// ExportHandler reports queued exports and serves their output
type ExportHandler struct {
	exports *jobs.Module
	storage *storage.Service
	logger  *zap.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(exports *jobs.Module, storage *storage.Service, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		exports: exports,
		storage: storage,
		logger:  logger,
	}
}

// ExportResponse is an export job plus a presigned link on remote storage
type ExportResponse struct {
	*jobs.ExportJob
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Get returns the export job status
func (h *ExportHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.exports.GetExport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := ExportResponse{ExportJob: job}
	if job.Status == jobs.StatusCompleted && job.Output != nil {
		url, err := h.storage.DownloadURL(r.Context(), job.Output.Path, downloadURLExpiry)
		if err != nil {
			h.logger.Warn("Failed to presign export", zap.String("job_id", job.ID), zap.Error(err))
		}
		resp.DownloadURL = url
	}
	writeJSON(w, http.StatusOK, resp)
}

// Download streams a completed export
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	job, err := h.exports.GetExport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if job.Status != jobs.StatusCompleted || job.Output == nil {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "export not finished", Code: "NOT_READY"})
		return
	}

	reader, err := h.storage.Retrieve(r.Context(), job.Output.Path)
	if err != nil {
		h.logger.Error("Failed to open export", zap.String("job_id", job.ID), zap.Error(err))
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "export output missing", Code: "NOT_FOUND"})
		return
	}
	defer reader.Close()

	if job.Output.ContentType != "" {
		w.Header().Set("Content-Type", job.Output.ContentType)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="export-`+job.ID+filepath.Ext(job.Output.Path)+`"`)
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("Export download interrupted", zap.String("job_id", job.ID), zap.Error(err))
	}
}
