package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/api/handlers"
	"github.com/nextconvert/editor/internal/api/websocket"
	"github.com/nextconvert/editor/internal/modules/autosave"
	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/jobs"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/modules/media/mediatest"
	"github.com/nextconvert/editor/internal/modules/session"
	"github.com/nextconvert/editor/internal/shared/config"
	"github.com/nextconvert/editor/internal/shared/metrics"
	"github.com/nextconvert/editor/internal/shared/storage"
)

type recordingQueue struct {
	payloads []jobs.ExportPayload
}

func (q *recordingQueue) EnqueueExport(payload jobs.ExportPayload) (*asynq.TaskInfo, error) {
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID}, nil
}

// snapshotView omits the job union, which only marshals one way
type snapshotView struct {
	ID           string          `json:"id"`
	State        session.State   `json:"state"`
	Parameters   edit.Parameters `json:"parameters"`
	Pending      []edit.Family   `json:"pending"`
	Committed    media.Media     `json:"committed"`
	HistoryIndex int             `json:"historyIndex"`
	CanRedo      bool            `json:"canRedo"`
}

type testServer struct {
	router http.Handler
	fileID string
	source string
	queue  *recordingQueue
}

func newTestServer(t *testing.T, offload bool) *testServer {
	t.Helper()
	root := t.TempDir()

	store, err := storage.NewService(config.StorageConfig{Backend: "local", BasePath: filepath.Join(root, "storage")})
	require.NoError(t, err)

	upload, err := store.Store(context.Background(), storage.ZoneUpload, "source.mp4", strings.NewReader("source"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := websocket.NewHub(nil, m, zap.NewNop())

	newEngine := func(id string) (media.Engine, error) {
		return mediatest.NewEngine(filepath.Join(root, "work", id)), nil
	}
	manager := session.NewManager(session.ManagerConfig{AutoSaveInterval: time.Hour},
		store, autosave.NewMemoryStore(), newEngine, hub.Collaborators, m, zap.NewNop())
	manager.SetObserver(hub.ForwardEvent)
	t.Cleanup(manager.CloseAll)

	ts := &testServer{fileID: upload.ID, source: upload.Path}
	var exports *jobs.Module
	if offload {
		ts.queue = &recordingQueue{}
		exports = jobs.NewModule(jobs.NewMemoryStore(), ts.queue, m, zap.NewNop())
	}

	ts.router = NewServer(ServerConfig{
		Config:   &config.Config{AllowedOrigins: []string{"http://localhost:5173"}},
		Logger:   zap.NewNop(),
		Storage:  store,
		WSHub:    hub,
		Sessions: manager,
		Exports:  exports,
		Metrics:  m,
		Gatherer: reg,
	}).Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, r)
	return rec
}

func (ts *testServer) createSession(t *testing.T) snapshotView {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/sessions", session.CreateRequest{
		ProjectID: "project-1",
		FileID:    ts.fileID,
		Declared:  media.Declared{Duration: 120, Width: 1920, Height: 1080},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap snapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSessionEditApplyUndo(t *testing.T) {
	ts := newTestServer(t, false)
	snap := ts.createSession(t)
	assert.Equal(t, session.StateReady, snap.State)
	base := "/api/v1/sessions/" + snap.ID

	rec := ts.do(t, http.MethodPut, base+"/crop", map[string]float64{"x": 10, "y": 0, "width": 50, "height": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decode[snapshotView](t, rec)
	assert.Equal(t, 50.0, snap.Parameters.Crop.Width)
	assert.Contains(t, snap.Pending, edit.FamilyCrop)

	rec = ts.do(t, http.MethodPost, base+"/apply/crop", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decode[snapshotView](t, rec)
	assert.Empty(t, snap.Pending)
	assert.NotEqual(t, ts.source, snap.Committed.Path)

	rec = ts.do(t, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[handlers.HistoryResponse](t, rec)
	require.Len(t, history.Entries, 3)
	assert.Equal(t, "apply:crop", history.Entries[2].Action)

	rec = ts.do(t, http.MethodPost, base+"/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decode[snapshotView](t, rec)
	assert.Equal(t, 1, snap.HistoryIndex)
	assert.True(t, snap.CanRedo)
}

func TestSessionErrors(t *testing.T) {
	ts := newTestServer(t, false)
	snap := ts.createSession(t)
	base := "/api/v1/sessions/" + snap.ID

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
		code   string
	}{
		{"unknown session", http.MethodGet, "/api/v1/sessions/missing", nil, http.StatusNotFound, "NOT_FOUND"},
		{"crop out of bounds", http.MethodPut, base + "/crop", map[string]float64{"x": 60, "y": 0, "width": 50, "height": 100}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", http.MethodPut, base + "/trim", map[string]float64{"start": 1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown family", http.MethodPost, base + "/apply/blur", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"redo at end", http.MethodPost, base + "/redo", nil, http.StatusConflict, "HISTORY_BOUNDS"},
		{"no recovery", http.MethodPost, base + "/recovery", nil, http.StatusNotFound, "NO_RECOVERY"},
		{"bad export format", http.MethodPut, base + "/export-settings", map[string]string{"format": "avi", "quality": "high"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[handlers.ErrorResponse](t, rec).Code)
		})
	}
}

func TestCreateSessionOnlyOpensUploads(t *testing.T) {
	ts := newTestServer(t, false)

	tests := []struct {
		name  string
		body  interface{}
		field string
	}{
		{"host path as source", map[string]interface{}{"source": map[string]string{"path": "/etc/passwd"}}, "body"},
		{"host path as file id", map[string]string{"fileId": "/etc/passwd"}, "fileId"},
		{"protocol url as file id", map[string]string{"fileId": "http://169.254.169.254/latest/meta-data"}, "fileId"},
		{"path outside the upload zone", map[string]string{"fileId": "../output/" + ts.fileID}, "fileId"},
		{"missing file id", map[string]string{"projectId": "p"}, "fileId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/sessions", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			resp := decode[handlers.ErrorResponse](t, rec)
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
			assert.Equal(t, tt.field, resp.Field)
		})
	}

	health := decode[handlers.HealthResponse](t, ts.do(t, http.MethodGet, "/health", nil))
	require.NotNil(t, health.Sessions)
	assert.Equal(t, 0, *health.Sessions)
}

func TestSessionSubtitlesAndPlayback(t *testing.T) {
	ts := newTestServer(t, false)
	snap := ts.createSession(t)
	base := "/api/v1/sessions/" + snap.ID

	rec := ts.do(t, http.MethodPost, base+"/subtitles", map[string]interface{}{"startTime": 1, "endTime": 3, "text": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]interface{}](t, rec)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	rec = ts.do(t, http.MethodPut, base+"/subtitles/"+id, map[string]interface{}{"startTime": 2, "endTime": 4, "text": "bye"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, base+"/subtitles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	subs := decode[[]map[string]interface{}](t, rec)
	require.Len(t, subs, 1)
	assert.Equal(t, "bye", subs[0]["text"])

	rec = ts.do(t, http.MethodDelete, base+"/subtitles/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/seek", handlers.SeekRequest{Time: 500})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 120.0, decode[handlers.SeekRequest](t, rec).Time)

	rec = ts.do(t, http.MethodPut, base+"/playback", map[string]interface{}{"volume": 3, "rate": 0.1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	playback := decode[session.Playback](t, rec)
	assert.Equal(t, 1.0, playback.Volume)
	assert.Equal(t, 0.25, playback.Rate)
}

func TestSessionExportOffload(t *testing.T) {
	ts := newTestServer(t, true)
	snap := ts.createSession(t)
	base := "/api/v1/sessions/" + snap.ID

	rec := ts.do(t, http.MethodPut, base+"/trim", map[string]float64{"startTime": 10, "endTime": 40})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, base+"/export", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[jobs.ExportJob](t, rec)
	assert.Equal(t, jobs.StatusQueued, job.Status)
	assert.Equal(t, snap.ID, job.SessionID)

	require.Len(t, ts.queue.payloads, 1)
	assert.Equal(t, 10.0, ts.queue.payloads[0].Params.Trim.StartTime)

	rec = ts.do(t, http.MethodGet, "/api/v1/exports/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, job.ID, decode[handlers.ExportResponse](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/exports/"+job.ID+"/download", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/exports/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionDeleteAndHealth(t *testing.T) {
	ts := newTestServer(t, false)
	snap := ts.createSession(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[handlers.HealthResponse](t, rec)
	require.NotNil(t, health.Sessions)
	assert.Equal(t, 1, *health.Sessions)

	rec = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+snap.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+snap.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
