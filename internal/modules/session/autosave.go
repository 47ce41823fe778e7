package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/autosave"
	"github.com/nextconvert/editor/internal/modules/edit"
)

const autoSaveTimeout = 10 * time.Second

func (s *Session) autoSaveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), autoSaveTimeout)
			s.autoSave(ctx, false)
			cancel()
		case <-s.stop:
			return
		}
	}
}

// AutoSaveNow runs one auto-save check immediately and reports whether a
// record was written.
func (s *Session) AutoSaveNow(ctx context.Context) bool {
	return s.autoSave(ctx, false)
}

// autoSave writes a recovery record when the session is dirty, has changed
// since the last write and the minimum spacing has passed. force skips the
// spacing and state checks and is used on close.
func (s *Session) autoSave(ctx context.Context, force bool) bool {
	s.mu.Lock()
	now := s.now()
	switch {
	case s.autoSaveDisabled, !s.dirty, s.changeSeq == s.savedSeq:
		s.mu.Unlock()
		return false
	case !force && s.phase != StateReady:
		s.mu.Unlock()
		return false
	case !force && !s.lastSaveAt.IsZero() && now.Sub(s.lastSaveAt) < s.cfg.AutoSaveMinSpacing:
		s.mu.Unlock()
		return false
	}
	rec := autosave.Record{
		ProjectID:      s.cfg.ProjectID,
		Timestamp:      now,
		Parameters:     s.params.Clone(),
		ActiveEditMode: s.ui.ActivePanel,
	}
	seq := s.changeSeq
	s.mu.Unlock()

	if err := s.store.Save(ctx, rec); err != nil {
		s.mu.Lock()
		s.autoSaveDisabled = true
		s.mu.Unlock()

		s.metrics.RecordAutoSave(s.store.Name(), false)
		s.logger.Warn("Auto-save failed, disabling for this session",
			zap.String("backend", s.store.Name()),
			zap.Error(err),
		)
		s.emit(Event{Type: EventAutoSaveDisabled, Error: err.Error()})
		return false
	}

	s.mu.Lock()
	s.lastSaveAt = now
	if seq > s.savedSeq {
		s.savedSeq = seq
	}
	s.mu.Unlock()

	s.metrics.RecordAutoSave(s.store.Name(), true)
	s.logger.Debug("Auto-saved session", zap.String("backend", s.store.Name()))
	s.emit(Event{Type: EventAutoSaved})
	return true
}

// CheckAutoSave looks for a recovery record for this project. Records older
// than the stale window are deleted. A usable record becomes the recovery
// offer and is returned; store failures are logged and yield nil.
func (s *Session) CheckAutoSave(ctx context.Context) (*autosave.Record, error) {
	rec, err := s.store.Load(ctx, s.cfg.ProjectID)
	if errors.Is(err, autosave.ErrNotFound) {
		return nil, nil
	}
	if errors.Is(err, autosave.ErrNewerVersion) {
		s.logger.Info("Leaving auto-save record from a newer release", zap.Error(err))
		return nil, nil
	}
	if err != nil {
		var perr *autosave.PersistenceError
		if errors.As(err, &perr) {
			s.logger.Warn("Failed to read auto-save record", zap.Error(err))
			return nil, nil
		}
		s.logger.Warn("Dropping unreadable auto-save record", zap.Error(err))
		s.deleteRecord(ctx)
		return nil, nil
	}

	if rec.ProjectID != s.cfg.ProjectID {
		return nil, nil
	}
	if age := rec.Age(s.now()); age > s.cfg.AutoSaveStaleAfter {
		s.logger.Info("Deleting stale auto-save record", zap.Duration("age", age))
		s.deleteRecord(ctx)
		return nil, nil
	}

	s.mu.Lock()
	s.recovery = rec
	s.mu.Unlock()

	s.logger.Info("Recovery available", zap.Time("saved_at", rec.Timestamp))
	s.emit(Event{Type: EventRecoveryAvailable})
	return rec, nil
}

// Recovery returns the pending recovery offer, if any.
func (s *Session) Recovery() *autosave.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recovery == nil {
		return nil
	}
	rec := *s.recovery
	rec.Parameters = rec.Parameters.Clone()
	return &rec
}

// AcceptRecovery restores the offered parameters as a new undoable step and
// deletes the record.
func (s *Session) AcceptRecovery(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	rec := s.recovery
	if rec == nil {
		s.mu.Unlock()
		return ErrNoRecovery
	}

	restored := rec.Parameters.Clone()
	if restored.Trim.EndTime > s.duration || restored.Trim.EndTime <= 0 {
		restored.Trim.EndTime = s.duration
	}
	if err := restored.Validate(s.duration); err != nil {
		s.mu.Unlock()
		return &ValidationError{Field: "recovery", Err: err}
	}

	for _, f := range changedFamilies(s.params, restored) {
		s.pending.Add(f)
		s.generations[f]++
		delete(s.cache, f)
	}
	s.params = restored
	if rec.ActiveEditMode != "" {
		s.ui.ActivePanel = rec.ActiveEditMode
	}
	s.recovery = nil
	s.markDirtyLocked()
	s.pushHistoryLocked("recovered")
	params := s.params.Clone()
	s.mu.Unlock()

	s.deleteRecord(ctx)

	s.renderer.ClearCache()
	s.renderer.Redraw(params)
	s.waveform.SetTrimRegion(params.Trim.StartTime, params.Trim.EndTime)

	s.logger.Info("Recovered auto-saved edits")
	s.emit(Event{Type: EventParametersChanged, Action: "recovered"})
	return nil
}

// DeclineRecovery drops the offer and deletes the record.
func (s *Session) DeclineRecovery(ctx context.Context) error {
	s.mu.Lock()
	if s.recovery == nil {
		s.mu.Unlock()
		return ErrNoRecovery
	}
	s.recovery = nil
	s.mu.Unlock()

	s.deleteRecord(ctx)
	s.logger.Info("Recovery declined")
	return nil
}

func (s *Session) deleteRecord(ctx context.Context) {
	if err := s.store.Delete(ctx, s.cfg.ProjectID); err != nil {
		s.logger.Warn("Failed to delete auto-save record", zap.Error(err))
	}
}

// RecoveryChanges lists the families accepting the offer would change.
func (s *Session) RecoveryChanges() []edit.Family {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recovery == nil {
		return nil
	}
	return changedFamilies(s.params, s.recovery.Parameters)
}
