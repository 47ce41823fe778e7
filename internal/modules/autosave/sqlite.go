package autosave

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteStore keeps records in an embedded database, for single-node setups
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on a migrated database
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return &PersistenceError{Op: "save", Backend: s.Name(), Err: err}
	}

	savedAt := rec.Timestamp
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO autosave_records (key, project_id, version, payload, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			saved_at = excluded.saved_at
	`, Key(rec.ProjectID), rec.ProjectID, CurrentVersion, string(data), savedAt.UTC())
	if err != nil {
		return &PersistenceError{Op: "save", Backend: s.Name(), Err: err}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, projectID string) (*Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM autosave_records WHERE key = ?`, Key(projectID)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Backend: s.Name(), Err: err}
	}
	return Decode([]byte(data))
}

func (s *SQLiteStore) Delete(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM autosave_records WHERE key = ?`, Key(projectID)); err != nil {
		return &PersistenceError{Op: "delete", Backend: s.Name(), Err: err}
	}
	return nil
}
