package session

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/media"
)

// SubtitleView is the subtitle display state
type SubtitleView struct {
	Visible  bool   `json:"visible"`
	ActiveID string `json:"activeId,omitempty"`
}

// AddSubtitle validates and appends a caption, assigning an id when empty.
// It returns the stored caption.
func (s *Session) AddSubtitle(sub edit.Subtitle) (edit.Subtitle, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	sub.Text = media.SanitizeSubtitleText(sub.Text)

	err := s.mutateSubtitles(func(subs []edit.Subtitle, duration float64) ([]edit.Subtitle, error) {
		if err := edit.ValidateSubtitle(sub, duration); err != nil {
			return nil, &ValidationError{Field: "subtitle", Err: err}
		}
		for _, existing := range subs {
			if existing.ID == sub.ID {
				return nil, &ValidationError{Field: "subtitle", Err: fmt.Errorf("duplicate id %q", sub.ID)}
			}
		}
		return append(subs, sub), nil
	})
	if err != nil {
		return edit.Subtitle{}, err
	}
	return sub, nil
}

// UpdateSubtitle replaces the caption with the given id
func (s *Session) UpdateSubtitle(id string, sub edit.Subtitle) (edit.Subtitle, error) {
	sub.ID = id
	sub.Text = media.SanitizeSubtitleText(sub.Text)

	err := s.mutateSubtitles(func(subs []edit.Subtitle, duration float64) ([]edit.Subtitle, error) {
		if err := edit.ValidateSubtitle(sub, duration); err != nil {
			return nil, &ValidationError{Field: "subtitle", Err: err}
		}
		for i := range subs {
			if subs[i].ID == id {
				subs[i] = sub
				return subs, nil
			}
		}
		return nil, &ValidationError{Field: "subtitle", Err: fmt.Errorf("no subtitle with id %q", id)}
	})
	if err != nil {
		return edit.Subtitle{}, err
	}
	return sub, nil
}

// DeleteSubtitle removes the caption with the given id
func (s *Session) DeleteSubtitle(id string) error {
	err := s.mutateSubtitles(func(subs []edit.Subtitle, _ float64) ([]edit.Subtitle, error) {
		for i := range subs {
			if subs[i].ID == id {
				return append(subs[:i], subs[i+1:]...), nil
			}
		}
		return nil, &ValidationError{Field: "subtitle", Err: fmt.Errorf("no subtitle with id %q", id)}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.subtitles.ActiveID == id {
		s.subtitles.ActiveID = ""
	}
	s.mu.Unlock()
	return nil
}

// SetActiveSubtitle selects a caption for editing; an empty id clears it
func (s *Session) SetActiveSubtitle(id string) error {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if id != "" && !hasSubtitle(s.params.Subtitles, id) {
		s.mu.Unlock()
		return &ValidationError{Field: "subtitle", Err: fmt.Errorf("no subtitle with id %q", id)}
	}
	s.subtitles.ActiveID = id
	s.mu.Unlock()

	s.emit(Event{Type: EventSubtitlesChanged, Action: "select"})
	return nil
}

// ToggleSubtitles flips preview visibility and returns the new value
func (s *Session) ToggleSubtitles() (bool, error) {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.subtitles.Visible = !s.subtitles.Visible
	visible := s.subtitles.Visible
	params := s.params.Clone()
	s.mu.Unlock()

	if !visible {
		params.Subtitles = nil
	}
	s.renderer.Redraw(params)
	s.emit(Event{Type: EventSubtitlesChanged, Action: "toggle"})
	return visible, nil
}

// Subtitles returns captions in start-time order
func (s *Session) Subtitles() []edit.Subtitle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.SortedSubtitles()
}

// Transcript renders the captions as timestamped lines
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return edit.BuildTranscript(s.params.Subtitles)
}

// mutateSubtitles edits a copy of the caption list. Subtitles are not a
// commit family, so nothing becomes pending.
func (s *Session) mutateSubtitles(fn func(subs []edit.Subtitle, duration float64) ([]edit.Subtitle, error)) error {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	subs := make([]edit.Subtitle, len(s.params.Subtitles))
	copy(subs, s.params.Subtitles)

	next, err := fn(subs, s.duration)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.params.Subtitles = next
	s.markDirtyLocked()
	s.pushHistoryLocked("subtitles")
	params := s.params.Clone()
	s.mu.Unlock()

	s.renderer.Redraw(params)
	s.emit(Event{Type: EventSubtitlesChanged})
	return nil
}

func hasSubtitle(subs []edit.Subtitle, id string) bool {
	for _, sub := range subs {
		if sub.ID == id {
			return true
		}
	}
	return false
}
