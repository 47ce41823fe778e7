package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/shared/storage"
)

// Task types
const (
	TypeSessionExport    = "session:export"
	TypeArtifactsCleanup = "artifacts:cleanup"
)

// Queues, highest priority first
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// QueueClient handles job queue operations
type QueueClient struct {
	client *asynq.Client
	logger *zap.Logger
}

// RedisConnOpt accepts the same redis:// URL or host:port as the rest of
// the service
func RedisConnOpt(redisURL string) (asynq.RedisConnOpt, error) {
	if !strings.Contains(redisURL, "://") {
		return asynq.RedisClientOpt{Addr: redisURL}, nil
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return opt, nil
}

// NewQueueClient creates a new queue client
func NewQueueClient(redisURL string, logger *zap.Logger) (*QueueClient, error) {
	opt, err := RedisConnOpt(redisURL)
	if err != nil {
		return nil, err
	}
	return &QueueClient{
		client: asynq.NewClient(opt),
		logger: logger,
	}, nil
}

// Close closes the queue client
func (q *QueueClient) Close() error {
	return q.client.Close()
}

// ExportPayload carries one detached export render
type ExportPayload struct {
	JobID     string               `json:"jobId"`
	SessionID string               `json:"sessionId"`
	ProjectID string               `json:"projectId"`
	Source    media.Media          `json:"source"`
	Params    edit.Parameters      `json:"params"`
	Declared  media.Declared       `json:"declared"`
	Settings  media.ExportSettings `json:"settings"`
}

// CleanupPayload contains artifact cleanup task data
type CleanupPayload struct {
	Zone      string `json:"zone"`
	OlderThan int64  `json:"olderThan"` // Seconds
}

// EnqueueExport queues an export render
func (q *QueueClient) EnqueueExport(payload ExportPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(TypeSessionExport, data)

	opts := []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(2 * time.Hour),
		asynq.Queue(QueueCritical),
		asynq.TaskID(payload.JobID),
	}

	info, err := q.client.Enqueue(task, opts...)
	if err != nil {
		q.logger.Error("Failed to enqueue export task", zap.Error(err))
		return nil, err
	}

	q.logger.Info("Export task enqueued",
		zap.String("task_id", info.ID),
		zap.String("job_id", payload.JobID),
		zap.String("session_id", payload.SessionID),
	)

	return info, nil
}

// EnqueueCleanup queues an artifact cleanup task
func (q *QueueClient) EnqueueCleanup(payload CleanupPayload) (*asynq.TaskInfo, error) {
	task, err := newCleanupTask(storage.Zone(payload.Zone), time.Duration(payload.OlderThan)*time.Second)
	if err != nil {
		return nil, err
	}

	opts := []asynq.Option{
		asynq.MaxRetry(1),
		asynq.Queue(QueueLow),
	}

	return q.client.Enqueue(task, opts...)
}

func newCleanupTask(zone storage.Zone, olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{
		Zone:      string(zone),
		OlderThan: int64(olderThan / time.Second),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeArtifactsCleanup, data), nil
}

// CleanupSchedule is one periodic sweep of a storage zone
type CleanupSchedule struct {
	Cron      string
	Zone      storage.Zone
	OlderThan time.Duration
}

// DefaultCleanupSchedules sweeps intermediate artifacts often and exports weekly.
func DefaultCleanupSchedules() []CleanupSchedule {
	return []CleanupSchedule{
		{Cron: "@every 30m", Zone: storage.ZoneWorking, OlderThan: 4 * time.Hour},
		{Cron: "@daily", Zone: storage.ZoneOutput, OlderThan: 168 * time.Hour},
	}
}

// ScheduleCleanup registers the periodic sweeps and starts a scheduler.
// The returned scheduler must be shut down by the caller.
func ScheduleCleanup(redisURL string, schedules []CleanupSchedule, logger *zap.Logger) (*asynq.Scheduler, error) {
	opt, err := RedisConnOpt(redisURL)
	if err != nil {
		return nil, err
	}
	scheduler := asynq.NewScheduler(opt, nil)

	for _, s := range schedules {
		task, err := newCleanupTask(s.Zone, s.OlderThan)
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.Register(s.Cron, task, asynq.Queue(QueueLow)); err != nil {
			return nil, err
		}
		logger.Info("Cleanup scheduled",
			zap.String("zone", string(s.Zone)),
			zap.String("cron", s.Cron),
			zap.Duration("older_than", s.OlderThan),
		)
	}

	if err := scheduler.Start(); err != nil {
		return nil, err
	}
	return scheduler, nil
}
