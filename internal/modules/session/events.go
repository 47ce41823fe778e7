package session

import (
	"time"

	"github.com/nextconvert/editor/internal/modules/edit"
)

// EventType names a session notification
type EventType string

const (
	EventStateChanged      EventType = "state_changed"
	EventParametersChanged EventType = "parameters_changed"
	EventHistoryChanged    EventType = "history_changed"
	EventJobStarted        EventType = "job_started"
	EventJobCompleted      EventType = "job_completed"
	EventJobFailed         EventType = "job_failed"
	EventProgress          EventType = "progress"
	EventAutoSaved         EventType = "autosaved"
	EventAutoSaveDisabled  EventType = "autosave_disabled"
	EventRecoveryAvailable EventType = "recovery_available"
	EventPlaybackChanged   EventType = "playback_changed"
	EventSubtitlesChanged  EventType = "subtitles_changed"
	EventExportCompleted   EventType = "export_completed"
	EventSaved             EventType = "saved"
	EventDiscarded         EventType = "discarded"
	EventClosed            EventType = "closed"
)

// Event is delivered to every subscriber
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"sessionId"`
	State     State       `json:"state,omitempty"`
	Family    edit.Family `json:"family,omitempty"`
	Action    string      `json:"action,omitempty"`
	Phase     string      `json:"phase,omitempty"`
	Percent   int         `json:"percent,omitempty"`
	Stale     bool        `json:"stale,omitempty"`
	Error     string      `json:"error,omitempty"`
	Time      time.Time   `json:"time"`
}

// Subscribe registers fn for every future event. Handlers run on the
// goroutine that caused the event and must not block.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) emit(e Event) {
	e.SessionID = s.id
	if e.Time.IsZero() {
		e.Time = s.now()
	}

	s.obsMu.Lock()
	handlers := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		handlers = append(handlers, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range handlers {
		fn(e)
	}
}
