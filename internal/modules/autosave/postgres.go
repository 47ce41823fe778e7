package autosave

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps records in the editor_autosave table
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
		CREATE TABLE IF NOT EXISTS editor_autosave (
			key        TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			version    INTEGER NOT NULL,
			payload    JSONB NOT NULL,
			saved_at   TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return &PersistenceError{Op: "migrate", Backend: s.Name(), Err: err}
	}
	return nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return &PersistenceError{Op: "save", Backend: s.Name(), Err: err}
	}

	savedAt := rec.Timestamp
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO editor_autosave (key, project_id, version, payload, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET version = EXCLUDED.version, payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at
	`, Key(rec.ProjectID), rec.ProjectID, CurrentVersion, data, savedAt)
	if err != nil {
		return &PersistenceError{Op: "save", Backend: s.Name(), Err: err}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, projectID string) (*Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM editor_autosave WHERE key = $1`, Key(projectID)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Backend: s.Name(), Err: err}
	}
	return Decode(data)
}

func (s *PostgresStore) Delete(ctx context.Context, projectID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM editor_autosave WHERE key = $1`, Key(projectID)); err != nil {
		return &PersistenceError{Op: "delete", Backend: s.Name(), Err: err}
	}
	return nil
}
