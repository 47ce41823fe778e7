package session

import (
	"encoding/json"
	"time"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/media"
)

// Job is the status of the latest apply for one family. It is one of
// PendingJob, CompletedJob or FailedJob.
type Job interface {
	job()
	Family() edit.Family
}

// PendingJob is queued or running
type PendingJob struct {
	For       edit.Family
	StartedAt time.Time
}

// CompletedJob finished; Stale results were returned but not adopted
type CompletedJob struct {
	For        edit.Family
	Media      media.Media
	Stale      bool
	FinishedAt time.Time
}

// FailedJob ended with an error
type FailedJob struct {
	For        edit.Family
	Err        error
	FinishedAt time.Time
}

func (PendingJob) job()   {}
func (CompletedJob) job() {}
func (FailedJob) job()    {}

func (j PendingJob) Family() edit.Family   { return j.For }
func (j CompletedJob) Family() edit.Family { return j.For }
func (j FailedJob) Family() edit.Family    { return j.For }

type jobJSON struct {
	Status     string       `json:"status"`
	Family     edit.Family  `json:"family"`
	Media      *media.Media `json:"media,omitempty"`
	Stale      bool         `json:"stale,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}

func (j PendingJob) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{Status: "pending", Family: j.For, StartedAt: &j.StartedAt})
}

func (j CompletedJob) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{Status: "completed", Family: j.For, Media: &j.Media, Stale: j.Stale, FinishedAt: &j.FinishedAt})
}

func (j FailedJob) MarshalJSON() ([]byte, error) {
	msg := ""
	if j.Err != nil {
		msg = j.Err.Error()
	}
	return json.Marshal(jobJSON{Status: "failed", Family: j.For, Error: msg, FinishedAt: &j.FinishedAt})
}

// JobStatus returns the latest job for family, or nil when none ran.
func (s *Session) JobStatus(family edit.Family) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[family]
}
