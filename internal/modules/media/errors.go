package media

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled is returned to every job discarded by Cancel.
	ErrCancelled = errors.New("pipeline cancelled")
	// ErrPipelineClosed is returned once Close has been called.
	ErrPipelineClosed = errors.New("pipeline closed")
)

// ProbeError means source metadata could not be read.
// The pipeline recovers from it with declared values.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// EncodeError is a failed codec run. Strategy names the attempt that failed last.
type EncodeError struct {
	Op       string
	Strategy string
	Err      error
}

func (e *EncodeError) Error() string {
	if e.Strategy != "" {
		return fmt.Sprintf("%s (%s) failed: %v", e.Op, e.Strategy, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// TimeoutError is an operation that exceeded its bound; the engine was reset.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}
