package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/shared/metrics"
	"github.com/nextconvert/editor/internal/shared/storage"
)

// HandlerConfig contains dependencies for the job handler
type HandlerConfig struct {
	Store    Store
	Storage  *storage.Service
	Pipeline *media.Pipeline
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Handler executes queued tasks on a worker
type Handler struct {
	store    Store
	storage  *storage.Service
	pipeline *media.Pipeline
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a new job handler
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:    cfg.Store,
		storage:  cfg.Storage,
		pipeline: cfg.Pipeline,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Register binds every task type to mux
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSessionExport, h.HandleSessionExport)
	mux.HandleFunc(TypeArtifactsCleanup, h.HandleArtifactsCleanup)
}

// HandleSessionExport renders an export and moves it into the output zone
func (h *Handler) HandleSessionExport(ctx context.Context, task *asynq.Task) error {
	var payload ExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if err := payload.Settings.Validate(); err != nil {
		h.fail(ctx, payload, "INVALID_SETTINGS", err, false)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("Processing export job",
		zap.String("job_id", payload.JobID),
		zap.String("session_id", payload.SessionID),
		zap.String("source", payload.Source.Path),
		zap.String("format", payload.Settings.Format),
	)

	if err := h.store.MarkProcessing(ctx, payload.JobID, h.now()); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return fmt.Errorf("export job %s: %w: %w", payload.JobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to mark export job processing: %w", err)
	}

	start := h.now()
	res, err := h.pipeline.CommitAll(ctx, payload.Source, payload.Params, payload.Declared, payload.Settings)
	if err != nil {
		retryable := hasRetriesLeft(ctx)
		h.fail(ctx, payload, "PROCESSING_ERROR", err, retryable)
		if retryable {
			return err
		}
		h.metrics.RecordExport(payload.Settings.Format, StatusFailed, h.now().Sub(start))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	name := payload.JobID + filepath.Ext(res.Media.Path)
	info, err := h.storage.Move(ctx, res.Media.Path, storage.ZoneOutput, name)
	if err != nil {
		h.fail(ctx, payload, "STORAGE_ERROR", err, hasRetriesLeft(ctx))
		return fmt.Errorf("failed to store export: %w", err)
	}
	output := media.Media{Path: info.Path, ContentType: res.Media.ContentType, Size: info.Size}

	if err := h.store.Complete(ctx, payload.JobID, output, res.NewDuration, h.now()); err != nil {
		// The retry renders a fresh output
		if derr := h.storage.Delete(ctx, output.Path); derr != nil {
			h.logger.Warn("Failed to remove orphaned export", zap.String("path", output.Path), zap.Error(derr))
		}
		return fmt.Errorf("failed to complete export job: %w", err)
	}
	h.metrics.RecordExport(payload.Settings.Format, StatusCompleted, h.now().Sub(start))

	h.logger.Info("Export job completed",
		zap.String("job_id", payload.JobID),
		zap.String("output", output.Path),
		zap.Float64("duration", res.NewDuration),
	)
	return nil
}

func (h *Handler) fail(ctx context.Context, payload ExportPayload, code string, err error, retryable bool) {
	h.logger.Error("Export job failed",
		zap.String("job_id", payload.JobID),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)
	jobErr := JobError{Code: code, Message: err.Error(), Retryable: retryable}
	if ferr := h.store.Fail(ctx, payload.JobID, jobErr, h.now()); ferr != nil {
		h.logger.Warn("Failed to record export failure", zap.String("job_id", payload.JobID), zap.Error(ferr))
	}
}

// hasRetriesLeft reports whether asynq will run the task again after a failure.
// Outside a worker there is no retry.
func hasRetriesLeft(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried < maxRetry
}

// HandleArtifactsCleanup deletes stale files from one storage zone
func (h *Handler) HandleArtifactsCleanup(ctx context.Context, task *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	zone := storage.Zone(payload.Zone)
	if !zone.Valid() {
		return fmt.Errorf("unknown storage zone %q: %w", payload.Zone, asynq.SkipRetry)
	}
	if payload.OlderThan <= 0 {
		return fmt.Errorf("cleanup age must be positive: %w", asynq.SkipRetry)
	}

	olderThan := time.Duration(payload.OlderThan) * time.Second
	removed, err := h.storage.CleanupZone(ctx, zone, olderThan)
	if err != nil {
		h.logger.Error("Artifact cleanup failed", zap.String("zone", payload.Zone), zap.Error(err))
		return err
	}

	h.logger.Info("Cleaned up artifacts",
		zap.String("zone", payload.Zone),
		zap.Duration("older_than", olderThan),
		zap.Int("removed", removed),
	)
	return nil
}
