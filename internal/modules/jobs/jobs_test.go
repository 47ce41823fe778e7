package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/modules/media/mediatest"
	"github.com/nextconvert/editor/internal/modules/session"
	"github.com/nextconvert/editor/internal/shared/config"
	"github.com/nextconvert/editor/internal/shared/storage"
)

type fakeQueue struct {
	payloads []ExportPayload
	err      error
}

func (q *fakeQueue) EnqueueExport(payload ExportPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: QueueCritical}, nil
}

func exportPlan() *session.ExportPlan {
	params := edit.DefaultParameters(120)
	params.Trim = edit.Trim{StartTime: 10, EndTime: 40}
	return &session.ExportPlan{
		SessionID: "session-1",
		ProjectID: "project-1",
		Source:    media.Media{Path: "/data/source.mp4"},
		Params:    params,
		Declared:  media.Declared{Duration: 120, Width: 1920, Height: 1080},
		Settings:  media.ExportSettings{Format: media.FormatWebM, Quality: media.QualityHigh},
	}
}

func TestSubmitExport(t *testing.T) {
	store := NewMemoryStore()
	queue := &fakeQueue{}
	m := NewModule(store, queue, nil, zap.NewNop())

	job, err := m.SubmitExport(context.Background(), exportPlan())
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "session-1", job.SessionID)

	require.Len(t, queue.payloads, 1)
	p := queue.payloads[0]
	assert.Equal(t, job.ID, p.JobID)
	assert.Equal(t, 30.0, p.Params.Trim.Duration())
	assert.Equal(t, media.FormatWebM, p.Settings.Format)

	got, err := m.GetExport(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestSubmitExportErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings media.ExportSettings
		queueErr error
		wantErr  string
	}{
		{
			name:     "invalid format",
			settings: media.ExportSettings{Format: "avi", Quality: media.QualityLow},
			wantErr:  "unsupported export format",
		},
		{
			name:     "enqueue failure",
			settings: media.DefaultExportSettings(),
			queueErr: errors.New("redis down"),
			wantErr:  "failed to enqueue export",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			m := NewModule(store, &fakeQueue{err: tt.queueErr}, nil, zap.NewNop())

			prepared := exportPlan()
			prepared.Settings = tt.settings
			_, err := m.SubmitExport(context.Background(), prepared)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubmitExportInvalidSettingsIsValidationError(t *testing.T) {
	m := NewModule(NewMemoryStore(), &fakeQueue{}, nil, zap.NewNop())
	prepared := exportPlan()
	prepared.Settings.Quality = "ultra"

	_, err := m.SubmitExport(context.Background(), prepared)
	var verr *session.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "exportSettings", verr.Field)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, &ExportJob{ID: "job-1", Status: StatusQueued, CreatedAt: now}))
	require.NoError(t, store.MarkProcessing(ctx, "job-1", now))
	require.NoError(t, store.Fail(ctx, "job-1", JobError{Code: "PROCESSING_ERROR", Message: "boom", Retryable: true}, now))

	job, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.Error)
	assert.Nil(t, job.CompletedAt)

	require.NoError(t, store.MarkProcessing(ctx, "job-1", now.Add(time.Minute)))
	require.NoError(t, store.Complete(ctx, "job-1", media.Media{Path: "out.mp4"}, 30, now.Add(2*time.Minute)))

	job, err = store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Nil(t, job.Error)
	assert.Equal(t, now, *job.StartedAt)
	assert.Equal(t, "out.mp4", job.Output.Path)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, store.MarkProcessing(ctx, "missing", now), ErrJobNotFound)
}

type handlerFixture struct {
	handler *Handler
	store   *MemoryStore
	storage *storage.Service
	engine  *mediatest.Engine
	source  media.Media
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	root := t.TempDir()

	svc, err := storage.NewService(config.StorageConfig{Backend: "local", BasePath: filepath.Join(root, "storage")})
	require.NoError(t, err)

	src := filepath.Join(root, "source.mp4")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0644))

	engine := mediatest.NewEngine(filepath.Join(root, "work"))
	pipeline := media.NewPipeline(engine, svc, media.PipelineConfig{}, nil, zap.NewNop())
	t.Cleanup(func() { pipeline.Close() })

	store := NewMemoryStore()
	return &handlerFixture{
		handler: NewHandler(HandlerConfig{
			Store:    store,
			Storage:  svc,
			Pipeline: pipeline,
			Logger:   zap.NewNop(),
		}),
		store:   store,
		storage: svc,
		engine:  engine,
		source:  media.Media{Path: src, ContentType: "video/mp4"},
	}
}

func (f *handlerFixture) exportTask(t *testing.T, jobID string, settings media.ExportSettings) *asynq.Task {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), &ExportJob{ID: jobID, Status: StatusQueued, Settings: settings}))

	params := edit.DefaultParameters(120)
	params.Subtitles = []edit.Subtitle{{ID: "s1", StartTime: 1, EndTime: 2, Text: "hello"}}
	data, err := json.Marshal(ExportPayload{
		JobID:    jobID,
		Source:   f.source,
		Params:   params,
		Declared: media.Declared{Duration: 120, Width: 1920, Height: 1080},
		Settings: settings,
	})
	require.NoError(t, err)
	return asynq.NewTask(TypeSessionExport, data)
}

func TestHandleSessionExport(t *testing.T) {
	f := newHandlerFixture(t)
	settings := media.ExportSettings{Format: media.FormatWebM, Quality: media.QualityMedium}

	require.NoError(t, f.handler.HandleSessionExport(context.Background(), f.exportTask(t, "job-1", settings)))

	job, err := f.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.Output)
	assert.Contains(t, job.Output.Path, string(storage.ZoneOutput))
	assert.Equal(t, ".webm", filepath.Ext(job.Output.Path))
	assert.FileExists(t, job.Output.Path)

	calls := f.engine.Calls()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, "libvpx-vp9", mediatest.ArgAfter(last, "-c:v"))
	assert.Contains(t, strings.Join(last, " "), "subtitles=")
}

func TestHandleSessionExportFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.engine.FailFunc = func([]string) error { return errors.New("encoder crashed") }

	err := f.handler.HandleSessionExport(context.Background(), f.exportTask(t, "job-1", media.DefaultExportSettings()))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	job, err := f.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "PROCESSING_ERROR", job.Error.Code)
	assert.False(t, job.Error.Retryable)
}

func TestHandleSessionExportRejectsBadPayloads(t *testing.T) {
	f := newHandlerFixture(t)

	err := f.handler.HandleSessionExport(context.Background(), asynq.NewTask(TypeSessionExport, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = f.handler.HandleSessionExport(context.Background(), f.exportTask(t, "job-2", media.ExportSettings{Format: "avi", Quality: "low"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	job, gerr := f.store.Get(context.Background(), "job-2")
	require.NoError(t, gerr)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 0, f.engine.CallCount())
}

func TestHandleArtifactsCleanup(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	old, err := f.storage.Store(ctx, storage.ZoneWorking, "old.mp4", strings.NewReader("old"))
	require.NoError(t, err)
	fresh, err := f.storage.Store(ctx, storage.ZoneWorking, "fresh.mp4", strings.NewReader("fresh"))
	require.NoError(t, err)
	past := time.Now().Add(-5 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path, past, past))

	task, err := newCleanupTask(storage.ZoneWorking, 4*time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.handler.HandleArtifactsCleanup(ctx, task))

	assert.NoFileExists(t, old.Path)
	assert.FileExists(t, fresh.Path)
}

func TestHandleArtifactsCleanupRejectsBadPayloads(t *testing.T) {
	f := newHandlerFixture(t)

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed", "{"},
		{"unknown zone", `{"zone":"tmp","olderThan":60}`},
		{"zero age", `{"zone":"working","olderThan":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.handler.HandleArtifactsCleanup(context.Background(), asynq.NewTask(TypeArtifactsCleanup, []byte(tt.payload)))
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}
}

func TestDefaultCleanupSchedules(t *testing.T) {
	schedules := DefaultCleanupSchedules()
	require.Len(t, schedules, 2)
	assert.Equal(t, storage.ZoneWorking, schedules[0].Zone)
	assert.Equal(t, storage.ZoneOutput, schedules[1].Zone)

	task, err := newCleanupTask(storage.ZoneOutput, schedules[1].OlderThan)
	require.NoError(t, err)
	var payload CleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(168*3600), payload.OlderThan)
}
