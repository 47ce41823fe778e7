package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/jobs"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/modules/session"
	"github.com/nextconvert/editor/internal/shared/config"
	"github.com/nextconvert/editor/internal/shared/storage"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"validation", &session.ValidationError{Field: "trim", Err: errors.New("bad")}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"history bounds", &session.HistoryBoundsError{}, http.StatusConflict, "HISTORY_BOUNDS"},
		{"wrapped not found", fmt.Errorf("lookup: %w", session.ErrSessionNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"export not found", jobs.ErrJobNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"edits changed", session.ErrStaleCommit, http.StatusConflict, "EDITS_CHANGED"},
		{"not ready", session.ErrNotReady, http.StatusConflict, "NOT_READY"},
		{"closed", session.ErrClosed, http.StatusGone, "SESSION_CLOSED"},
		{"cancelled commit", &session.CommitFailure{Family: edit.FamilyTrim, Err: media.ErrCancelled}, http.StatusConflict, "CANCELLED"},
		{"encode failure", &session.CommitFailure{Family: edit.FamilyTrim, Err: errors.New("exit status 1")}, http.StatusBadGateway, "COMMIT_FAILED"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, zap.NewNop(), tt.err)
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestUploadStoresSource(t *testing.T) {
	store, err := storage.NewService(config.StorageConfig{Backend: "local", BasePath: t.TempDir()})
	require.NoError(t, err)
	h := NewFileHandler(store, zap.NewNop())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "clip.webm")
	require.NoError(t, err)
	_, err = fw.Write([]byte("\x1a\x45\xdf\xa3clip"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/files", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Upload(rec, r)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "clip.webm", resp.Name)
	assert.Equal(t, ".webm", filepath.Ext(resp.Media.Path))

	data, err := os.ReadFile(resp.Media.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x1a\x45\xdf\xa3clip"), data)
}

func TestUploadRequiresFile(t *testing.T) {
	store, err := storage.NewService(config.StorageConfig{Backend: "local", BasePath: t.TempDir()})
	require.NoError(t, err)
	h := NewFileHandler(store, zap.NewNop())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "clip"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/files", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Upload(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubCheck struct{ err error }

func (c stubCheck) HealthCheck(ctx context.Context) error { return c.err }

func TestReadyReportsUnhealthyDependency(t *testing.T) {
	h := NewHealthHandler(map[string]HealthChecker{
		"postgres": stubCheck{},
		"redis":    stubCheck{err: errors.New("connection refused")},
		"unused":   nil,
	}, nil)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "healthy", resp.Services["postgres"])
	assert.Contains(t, resp.Services["redis"], "connection refused")
	assert.NotContains(t, resp.Services, "unused")
}
