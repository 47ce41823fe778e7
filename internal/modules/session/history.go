package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/media"
)

// HistoryEntry is a deep-copied snapshot of everything undo restores
type HistoryEntry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Action     string          `json:"action"`
	Parameters edit.Parameters `json:"parameters"`
	Pending    []edit.Family   `json:"pending"`
	Committed  media.Media     `json:"committed"`
	Duration   float64         `json:"duration"`
	UI         UIState         `json:"ui"`
}

// pushHistoryLocked truncates any redo tail and appends the current state.
func (s *Session) pushHistoryLocked(action string) {
	entry := HistoryEntry{
		Timestamp:  s.now(),
		Action:     action,
		Parameters: s.params.Clone(),
		Pending:    s.pending.List(),
		Committed:  s.committed,
		Duration:   s.duration,
		UI:         s.ui,
	}
	if len(s.history) > 0 {
		s.history = s.history[:s.cursor+1]
	}
	s.history = append(s.history, entry)
	s.cursor = len(s.history) - 1
}

// History returns copies of every entry and the cursor position.
func (s *Session) History() ([]HistoryEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]HistoryEntry, len(s.history))
	for i, e := range s.history {
		e.Parameters = e.Parameters.Clone()
		e.Pending = append([]edit.Family(nil), e.Pending...)
		out[i] = e
	}
	return out, s.cursor
}

// CanUndo reports whether an earlier entry exists.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0
}

// CanRedo reports whether a later entry exists.
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.history)-1
}

// Undo replays the previous history entry
func (s *Session) Undo() error {
	return s.moveHistory(-1, "undo")
}

// Redo replays the next history entry
func (s *Session) Redo() error {
	return s.moveHistory(1, "redo")
}

func (s *Session) moveHistory(delta int, action string) error {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	target := s.cursor + delta
	if target < 0 || target >= len(s.history) {
		s.mu.Unlock()
		return &HistoryBoundsError{Index: target, Len: len(s.history)}
	}

	s.playback.Playing = false
	entry := s.history[target]
	s.cursor = target
	s.params = entry.Parameters.Clone()
	s.pending = edit.NewFamilySet(entry.Pending...)
	s.committed = entry.Committed
	s.duration = entry.Duration
	s.ui = entry.UI
	s.timeline = s.timeline.rebase(entry.Duration)

	// In-flight results were computed against a different snapshot.
	for _, f := range edit.Families {
		s.generations[f]++
	}
	s.cache = make(map[edit.Family]cacheEntry)
	s.markDirtyLocked()

	params := s.params.Clone()
	ui := s.ui
	trim := s.params.Trim
	s.mu.Unlock()

	s.renderer.ClearCache()
	s.renderer.Redraw(params)
	s.renderer.SeekPreview(ui.CurrentTime)
	s.waveform.SetTrimRegion(trim.StartTime, trim.EndTime)

	s.logger.Debug("History replayed", zap.String("action", action), zap.Int("index", target))
	s.emit(Event{Type: EventHistoryChanged, Action: action})
	return nil
}

func (s *Session) markDirtyLocked() {
	s.dirty = true
	s.changeSeq++
}
