package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/shared/storage"
)

// FileHandler accepts source uploads that sessions are opened on
type FileHandler struct {
	storage *storage.Service
	logger  *zap.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(storage *storage.Service, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		storage: storage,
		logger:  logger,
	}
}

// UploadResponse describes a stored source
type UploadResponse struct {
	FileID string      `json:"fileId"`
	Name   string      `json:"name"`
	Media  media.Media `json:"media"`
}

// Upload stores a single multipart "file" in the upload zone. The request
// has already been parsed and checked by middleware.ValidateFileUpload.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "file field is required", Code: "VALIDATION_ERROR", Field: "file"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")

	info, err := h.storage.Store(r.Context(), storage.ZoneUpload, header.Filename, file)
	if err != nil {
		h.logger.Error("Failed to store upload", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to store file", Code: "STORAGE_ERROR"})
		return
	}

	h.logger.Info("Source uploaded",
		zap.String("file_id", info.ID),
		zap.String("filename", header.Filename),
		zap.Int64("size", info.Size),
	)

	writeJSON(w, http.StatusCreated, UploadResponse{
		FileID: info.ID,
		Name:   header.Filename,
		Media:  media.Media{Path: info.Path, ContentType: contentType, Size: info.Size},
	})
}
