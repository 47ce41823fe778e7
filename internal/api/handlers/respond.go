package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/jobs"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/modules/session"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &session.ValidationError{Field: "body", Err: err}
	}
	return nil
}

// writeError maps domain errors to HTTP statuses
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		verr   *session.ValidationError
		bounds *session.HistoryBoundsError
		commit *session.CommitFailure
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_ERROR", Field: verr.Field})
	case errors.As(err, &bounds):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "HISTORY_BOUNDS"})
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, jobs.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, session.ErrNoRecovery):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NO_RECOVERY"})
	case errors.Is(err, session.ErrNotReady):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "NOT_READY"})
	case errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusGone, ErrorResponse{Error: err.Error(), Code: "SESSION_CLOSED"})
	case errors.Is(err, session.ErrStaleCommit):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "EDITS_CHANGED"})
	case errors.Is(err, media.ErrCancelled):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "CANCELLED"})
	case errors.As(err, &commit):
		logger.Warn("Encode failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "encoding failed", Code: "COMMIT_FAILED", Message: err.Error()})
	default:
		logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}
