package session

import (
	"errors"
	"fmt"

	"github.com/nextconvert/editor/internal/modules/edit"
)

var (
	// ErrNotReady is returned by mutations before Initialize completes.
	ErrNotReady = errors.New("session is not ready")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session is closed")
	// ErrNoRecovery is returned when there is no recovery offer to act on.
	ErrNoRecovery = errors.New("no recovery offer")
	// ErrSessionNotFound is returned by the Manager for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleCommit is returned when a family was edited while its commit
	// ran. The result was discarded and the edit is still pending.
	ErrStaleCommit = errors.New("edits changed during commit")
)

// ValidationError rejects a mutation; nothing was changed and no history was recorded
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// HistoryBoundsError is an undo or redo past either end; the session is unchanged
type HistoryBoundsError struct {
	Index int
	Len   int
}

func (e *HistoryBoundsError) Error() string {
	return fmt.Sprintf("history index %d out of range [0, %d)", e.Index, e.Len)
}

// CommitFailure is a pipeline failure surfaced by apply, commit or export.
// Pending state is untouched and the session stays usable.
type CommitFailure struct {
	Family edit.Family
	Op     string
	Err    error
}

func (e *CommitFailure) Error() string {
	if e.Family != "" {
		return fmt.Sprintf("failed to apply %s: %v", e.Family, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *CommitFailure) Unwrap() error { return e.Err }
