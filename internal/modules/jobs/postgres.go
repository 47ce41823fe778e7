package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextconvert/editor/internal/modules/media"
)

// PostgresStore keeps export jobs in the export_jobs table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on pool. Call EnsureSchema once at startup.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS export_jobs (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			project_id   TEXT NOT NULL,
			status       TEXT NOT NULL,
			settings     JSONB NOT NULL,
			output       JSONB,
			duration     DOUBLE PRECISION NOT NULL DEFAULT 0,
			attempts     INTEGER NOT NULL DEFAULT 0,
			error        JSONB,
			created_at   TIMESTAMPTZ NOT NULL,
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, job *ExportJob) error {
	settingsJSON, err := json.Marshal(job.Settings)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO export_jobs (id, session_id, project_id, status, settings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.SessionID, job.ProjectID, job.Status, settingsJSON, job.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*ExportJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, project_id, status, settings, output, duration, attempts,
		       error, created_at, started_at, completed_at
		FROM export_jobs WHERE id = $1
	`, id)

	job, err := scanExportJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `
		UPDATE export_jobs
		SET status = $1, attempts = attempts + 1, error = NULL, started_at = COALESCE(started_at, $2)
		WHERE id = $3
	`, StatusProcessing, at, id)
}

func (s *PostgresStore) Complete(ctx context.Context, id string, output media.Media, duration float64, at time.Time) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return err
	}
	return s.exec(ctx, `
		UPDATE export_jobs
		SET status = $1, output = $2, duration = $3, error = NULL, completed_at = $4
		WHERE id = $5
	`, StatusCompleted, outputJSON, duration, at, id)
}

func (s *PostgresStore) Fail(ctx context.Context, id string, jobErr JobError, at time.Time) error {
	errorJSON, err := json.Marshal(jobErr)
	if err != nil {
		return err
	}
	if jobErr.Retryable {
		return s.exec(ctx, `UPDATE export_jobs SET status = $1, error = $2 WHERE id = $3`,
			StatusQueued, errorJSON, id)
	}
	return s.exec(ctx, `UPDATE export_jobs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		StatusFailed, errorJSON, at, id)
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExportJob(row rowScanner) (*ExportJob, error) {
	var job ExportJob
	var settingsJSON, outputJSON, errorJSON []byte

	err := row.Scan(
		&job.ID, &job.SessionID, &job.ProjectID, &job.Status, &settingsJSON, &outputJSON,
		&job.Duration, &job.Attempts, &errorJSON, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(settingsJSON, &job.Settings); err != nil {
		return nil, err
	}
	if outputJSON != nil {
		job.Output = &media.Media{}
		if err := json.Unmarshal(outputJSON, job.Output); err != nil {
			return nil, err
		}
	}
	if errorJSON != nil {
		job.Error = &JobError{}
		if err := json.Unmarshal(errorJSON, job.Error); err != nil {
			return nil, err
		}
	}
	return &job, nil
}
