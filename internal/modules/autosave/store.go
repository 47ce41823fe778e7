// Package autosave persists in-progress edit sessions so they can be
// offered for recovery when the same project is opened again.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextconvert/editor/internal/modules/edit"
)

// KeyPrefix is prepended to the project id to form the storage key
const KeyPrefix = "videoeditor_autosave:"

// CurrentVersion is written into every record
const CurrentVersion = 1

var (
	// ErrNotFound is returned by Load when no record exists
	ErrNotFound = errors.New("auto-save record not found")
	// ErrNewerVersion is returned by Load for records written by a newer
	// release. They are left in place for that release to recover.
	ErrNewerVersion = errors.New("auto-save record from a newer version")
)

// Record is one persisted session snapshot
type Record struct {
	ProjectID      string          `json:"projectId"`
	Timestamp      time.Time       `json:"timestamp"`
	Parameters     edit.Parameters `json:"parameters"`
	ActiveEditMode string          `json:"activeEditMode"`
	Version        int             `json:"version"`
}

// Age returns how long ago the record was written.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// Store is a key-value store for auto-save records
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, projectID string) (*Record, error)
	Delete(ctx context.Context, projectID string) error
	// Name identifies the backend in logs and metrics.
	Name() string
}

// PersistenceError is a failed store operation
type PersistenceError struct {
	Op      string
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("autosave %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Key returns the storage key for a project.
func Key(projectID string) string {
	return KeyPrefix + projectID
}

// Encode serializes rec, stamping the current version.
func Encode(rec Record) ([]byte, error) {
	rec.Version = CurrentVersion
	return json.Marshal(rec)
}

// Decode parses a stored record. Records from a newer version fail with
// ErrNewerVersion.
func Decode(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode auto-save record: %w", err)
	}
	if rec.Version == 0 {
		rec.Version = CurrentVersion
	}
	if rec.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: version %d, supported %d", ErrNewerVersion, rec.Version, CurrentVersion)
	}
	if rec.Parameters.Filters == nil {
		rec.Parameters.Filters = edit.DefaultFilters()
	}
	if rec.Parameters.Subtitles == nil {
		rec.Parameters.Subtitles = []edit.Subtitle{}
	}
	return &rec, nil
}
