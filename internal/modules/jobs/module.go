package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/modules/session"
	"github.com/nextconvert/editor/internal/shared/metrics"
)

// Export job statuses
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrJobNotFound is returned for unknown export job ids
var ErrJobNotFound = errors.New("export job not found")

// ExportJob tracks one export rendered by a worker
type ExportJob struct {
	ID          string               `json:"id"`
	SessionID   string               `json:"sessionId"`
	ProjectID   string               `json:"projectId"`
	Status      string               `json:"status"`
	Settings    media.ExportSettings `json:"settings"`
	Output      *media.Media         `json:"output,omitempty"`
	Duration    float64              `json:"duration,omitempty"`
	Attempts    int                  `json:"attempts"`
	Error       *JobError            `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	StartedAt   *time.Time           `json:"startedAt,omitempty"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
}

// JobError represents a job error
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Store persists export job bookkeeping
type Store interface {
	Create(ctx context.Context, job *ExportJob) error
	Get(ctx context.Context, id string) (*ExportJob, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id string, output media.Media, duration float64, at time.Time) error
	Fail(ctx context.Context, id string, jobErr JobError, at time.Time) error
}

// MemoryStore keeps export jobs in process, for deployments without a database
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*ExportJob
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*ExportJob)}
}

func (s *MemoryStore) Create(ctx context.Context, job *ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	return s.update(id, func(job *ExportJob) {
		job.Status = StatusProcessing
		job.Attempts++
		job.Error = nil
		if job.StartedAt == nil {
			job.StartedAt = &at
		}
	})
}

func (s *MemoryStore) Complete(ctx context.Context, id string, output media.Media, duration float64, at time.Time) error {
	return s.update(id, func(job *ExportJob) {
		job.Status = StatusCompleted
		job.Output = &output
		job.Duration = duration
		job.Error = nil
		job.CompletedAt = &at
	})
}

func (s *MemoryStore) Fail(ctx context.Context, id string, jobErr JobError, at time.Time) error {
	return s.update(id, func(job *ExportJob) {
		job.Error = &jobErr
		if jobErr.Retryable {
			job.Status = StatusQueued
			return
		}
		job.Status = StatusFailed
		job.CompletedAt = &at
	})
}

func (s *MemoryStore) update(id string, fn func(job *ExportJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(job)
	return nil
}

// Enqueuer hands export payloads to the worker queue
type Enqueuer interface {
	EnqueueExport(payload ExportPayload) (*asynq.TaskInfo, error)
}

// Module submits and tracks detached exports
type Module struct {
	store   Store
	queue   Enqueuer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewModule creates a new jobs module
func NewModule(store Store, queue Enqueuer, m *metrics.Metrics, logger *zap.Logger) *Module {
	return &Module{
		store:   store,
		queue:   queue,
		metrics: m,
		logger:  logger,
	}
}

// SubmitExport records a queued export job and enqueues it
func (m *Module) SubmitExport(ctx context.Context, prepared *session.ExportPlan) (*ExportJob, error) {
	if err := prepared.Settings.Validate(); err != nil {
		return nil, &session.ValidationError{Field: "exportSettings", Err: err}
	}

	job := &ExportJob{
		ID:        uuid.New().String(),
		SessionID: prepared.SessionID,
		ProjectID: prepared.ProjectID,
		Status:    StatusQueued,
		Settings:  prepared.Settings,
		CreatedAt: time.Now(),
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to record export job: %w", err)
	}

	_, err := m.queue.EnqueueExport(ExportPayload{
		JobID:     job.ID,
		SessionID: prepared.SessionID,
		ProjectID: prepared.ProjectID,
		Source:    prepared.Source,
		Params:    prepared.Params,
		Declared:  prepared.Declared,
		Settings:  prepared.Settings,
	})
	if err != nil {
		now := time.Now()
		if ferr := m.store.Fail(ctx, job.ID, JobError{Code: "ENQUEUE_FAILED", Message: err.Error()}, now); ferr != nil {
			m.logger.Warn("Failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		m.metrics.RecordExport(prepared.Settings.Format, StatusFailed, 0)
		return nil, fmt.Errorf("failed to enqueue export: %w", err)
	}

	m.logger.Info("Export job queued",
		zap.String("job_id", job.ID),
		zap.String("session_id", prepared.SessionID),
		zap.String("format", prepared.Settings.Format),
	)
	return job, nil
}

// GetExport returns the current state of an export job
func (m *Module) GetExport(ctx context.Context, id string) (*ExportJob, error) {
	return m.store.Get(ctx, id)
}
