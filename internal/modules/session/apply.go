package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/media"
)

// ApplyEdit commits the pending edits of one family into the committed media.
// A result cached since the last change is returned without a job, and
// concurrent callers for the same family share one job.
func (s *Session) ApplyEdit(ctx context.Context, family edit.Family) (media.Media, error) {
	if !family.Valid() {
		return media.Media{}, &ValidationError{Field: "family", Err: fmt.Errorf("unknown family %q", family)}
	}

	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return media.Media{}, err
	}
	if !s.pending.Has(family) {
		out := s.committed
		entry, hit := s.cache[family]
		hit = hit && entry.generation == s.generations[family]
		if hit {
			out = entry.media
		}
		s.mu.Unlock()
		s.metrics.RecordCacheLookup(string(family), hit)
		return out, nil
	}
	s.mu.Unlock()
	s.metrics.RecordCacheLookup(string(family), false)

	// Shared callers must not be cancelled by whichever request started the job.
	v, err, shared := s.group.Do(string(family), func() (interface{}, error) {
		return s.runApply(context.WithoutCancel(ctx), family)
	})
	if shared {
		s.logger.Debug("Joined in-flight apply", zap.String("family", string(family)))
	}
	if err != nil {
		return media.Media{}, err
	}
	return v.(media.Media), nil
}

func (s *Session) runApply(ctx context.Context, family edit.Family) (media.Media, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.phase == StateClosed {
		s.mu.Unlock()
		return media.Media{}, ErrClosed
	}
	if !s.pending.Has(family) {
		out := s.committed
		s.mu.Unlock()
		return out, nil
	}
	gen := s.generations[family]
	src := s.committed
	params := s.params.Clone()
	declared := s.declaredLocked()
	s.jobs[family] = PendingJob{For: family, StartedAt: s.now()}
	s.inflight++
	s.mu.Unlock()

	s.emit(Event{Type: EventJobStarted, Family: family, State: StateCommitting})
	s.logger.Info("Applying edit", zap.String("family", string(family)), zap.String("source", src.Path))

	out, trim, err := s.execute(ctx, family, src, params, declared)

	s.mu.Lock()
	s.inflight--
	if err != nil {
		s.jobs[family] = FailedJob{For: family, Err: err, FinishedAt: s.now()}
		s.mu.Unlock()

		s.logger.Error("Failed to apply edit", zap.String("family", string(family)), zap.Error(err))
		s.emit(Event{Type: EventJobFailed, Family: family, Error: err.Error()})
		return media.Media{}, &CommitFailure{Family: family, Err: err}
	}

	if s.phase == StateClosed || s.generations[family] != gen {
		s.jobs[family] = CompletedJob{For: family, Media: out, Stale: true, FinishedAt: s.now()}
		s.mu.Unlock()

		s.metrics.RecordStaleResult()
		s.logger.Info("Discarding stale apply result", zap.String("family", string(family)))
		s.emit(Event{Type: EventJobCompleted, Family: family, Stale: true})
		return out, nil
	}

	s.committed = out
	s.pending.Remove(family)
	s.cache = map[edit.Family]cacheEntry{family: {media: out, generation: gen}}
	if trim != nil {
		s.rebaseDurationLocked(trim.NewDuration)
	}
	s.jobs[family] = CompletedJob{For: family, Media: out, FinishedAt: s.now()}
	s.markDirtyLocked()
	s.pushHistoryLocked("apply:" + string(family))
	params = s.params.Clone()
	s.mu.Unlock()

	if trim != nil {
		s.waveform.SetTrimRegion(0, trim.NewDuration)
		s.renderer.SeekPreview(0)
	}
	s.renderer.ClearCache()
	s.renderer.Redraw(params)

	s.emit(Event{Type: EventJobCompleted, Family: family})
	return out, nil
}

// rebaseDurationLocked adopts a trimmed duration: the new media starts at zero.
func (s *Session) rebaseDurationLocked(newDuration float64) {
	s.duration = newDuration
	s.params.Trim = edit.Trim{StartTime: 0, EndTime: newDuration}
	s.ui.CurrentTime = 0
	s.timeline = s.timeline.rebase(newDuration)
}

func (s *Session) execute(ctx context.Context, family edit.Family, src media.Media, params edit.Parameters, declared media.Declared) (media.Media, *media.TrimResult, error) {
	var (
		out media.Media
		err error
	)
	switch family {
	case edit.FamilyTrim:
		res, err := s.pipeline.Trim(ctx, src, params.Trim, declared)
		if err != nil {
			return media.Media{}, nil, err
		}
		return res.Media, res, nil
	case edit.FamilyCrop:
		out, err = s.pipeline.Crop(ctx, src, params.Crop, declared)
	case edit.FamilyTransform:
		out, err = s.pipeline.Transform(ctx, src, params.Transform, declared)
	case edit.FamilyFilters:
		out, err = s.pipeline.ApplyFilters(ctx, src, params.Filters, declared)
	case edit.FamilyAspectRatio:
		out, err = s.pipeline.ChangeAspectRatio(ctx, src, params.AspectRatio, params.CustomAspectRatio, declared)
	default:
		err = fmt.Errorf("unknown family %q", family)
	}
	return out, nil, err
}

// ApplyAllPendingChanges applies every pending family in commit order and
// stops at the first failure.
func (s *Session) ApplyAllPendingChanges(ctx context.Context) (media.Media, error) {
	for _, family := range edit.Families {
		if !s.HasPendingChanges(family) {
			continue
		}
		if _, err := s.ApplyEdit(ctx, family); err != nil {
			return media.Media{}, err
		}
	}
	return s.Committed(), nil
}

// ProcessEditInBackground starts ApplyEdit without waiting; progress is
// reported through events and JobStatus.
func (s *Session) ProcessEditInBackground(family edit.Family) error {
	if !family.Valid() {
		return &ValidationError{Field: "family", Err: fmt.Errorf("unknown family %q", family)}
	}

	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if _, err := s.ApplyEdit(context.Background(), family); err != nil {
			s.logger.Warn("Background apply failed", zap.String("family", string(family)), zap.Error(err))
		}
	}()
	return nil
}

// CommitAll encodes every pending family in one pass and adopts the result.
// Families already committed are neutralized so they are not applied twice.
// A result overtaken by an edit is dropped with ErrStaleCommit.
func (s *Session) CommitAll(ctx context.Context) (*media.CommitResult, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(s.pending) == 0 {
		res := &media.CommitResult{Media: s.committed, NewDuration: s.duration}
		s.mu.Unlock()
		return res, nil
	}

	pending := s.pending.Clone()
	gens := make(map[edit.Family]uint64, len(pending))
	for f := range pending {
		gens[f] = s.generations[f]
	}
	params := s.params.Neutralize(pending, s.duration)
	params.Subtitles = nil
	src := s.committed
	declared := s.declaredLocked()
	s.inflight++
	s.mu.Unlock()

	s.emit(Event{Type: EventStateChanged, State: StateCommitting})
	s.logger.Info("Committing pending edits", zap.Any("families", pending.List()))

	res, err := s.pipeline.CommitAll(ctx, src, params, declared, media.DefaultExportSettings())

	s.mu.Lock()
	s.inflight--
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to commit edits", zap.Error(err))
		s.emit(Event{Type: EventJobFailed, Action: "commit", Error: err.Error()})
		return nil, &CommitFailure{Op: "commit", Err: err}
	}

	if s.phase == StateClosed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	for f, gen := range gens {
		if s.generations[f] != gen {
			s.mu.Unlock()
			s.metrics.RecordStaleResult()
			s.logger.Info("Discarding stale commit result", zap.String("family", string(f)))
			return nil, ErrStaleCommit
		}
	}

	s.committed = res.Media
	s.cache = make(map[edit.Family]cacheEntry, len(pending))
	for f, gen := range gens {
		s.pending.Remove(f)
		s.cache[f] = cacheEntry{media: res.Media, generation: gen}
	}
	if pending.Has(edit.FamilyTrim) {
		s.rebaseDurationLocked(res.NewDuration)
	}
	s.markDirtyLocked()
	s.pushHistoryLocked("commit")
	current := s.params.Clone()
	s.mu.Unlock()

	if pending.Has(edit.FamilyTrim) {
		s.waveform.SetTrimRegion(0, res.NewDuration)
		s.renderer.SeekPreview(0)
	}
	s.renderer.ClearCache()
	s.renderer.Redraw(current)

	s.emit(Event{Type: EventJobCompleted, Action: "commit"})
	return res, nil
}

// ExportResult is a finished export artifact
type ExportResult struct {
	Media      media.Media          `json:"media"`
	Duration   float64              `json:"duration"`
	Settings   media.ExportSettings `json:"settings"`
	Transcript string               `json:"transcript"`
}

// ExportPlan is everything a detached worker needs to render an export
type ExportPlan struct {
	SessionID string               `json:"sessionId"`
	ProjectID string               `json:"projectId"`
	Source    media.Media          `json:"source"`
	Params    edit.Parameters      `json:"params"`
	Declared  media.Declared       `json:"declared"`
	Settings  media.ExportSettings `json:"settings"`
}

// PrepareExport captures the inputs Export would encode, for rendering
// outside this process.
func (s *Session) PrepareExport() (*ExportPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutableLocked(); err != nil {
		return nil, err
	}
	return &ExportPlan{
		SessionID: s.id,
		ProjectID: s.cfg.ProjectID,
		Source:    s.committed,
		Params:    s.exportParamsLocked(),
		Declared:  s.declaredLocked(),
		Settings:  s.export,
	}, nil
}

// exportParamsLocked is what an export encodes over committed media: pending
// families, plus subtitles unless they are hidden.
func (s *Session) exportParamsLocked() edit.Parameters {
	params := s.params.Neutralize(s.pending, s.duration)
	if !s.subtitles.Visible {
		params.Subtitles = nil
	}
	return params
}

// Export renders committed media plus pending edits and visible subtitles
// with the current export settings. The result is an artifact; the session
// is unchanged.
func (s *Session) Export(ctx context.Context) (*ExportResult, error) {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	params := s.exportParamsLocked()
	transcript := edit.BuildTranscript(s.params.Subtitles)
	settings := s.export
	src := s.committed
	declared := s.declaredLocked()
	s.inflight++
	s.mu.Unlock()

	start := time.Now()
	res, err := s.pipeline.CommitAll(ctx, src, params, declared, settings)

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()

	if err != nil {
		s.metrics.RecordExport(settings.Format, "failed", time.Since(start))
		s.logger.Error("Export failed", zap.String("format", settings.Format), zap.Error(err))
		s.emit(Event{Type: EventJobFailed, Action: "export", Error: err.Error()})
		return nil, &CommitFailure{Op: "export", Err: err}
	}

	s.metrics.RecordExport(settings.Format, "completed", time.Since(start))
	s.logger.Info("Export completed",
		zap.String("format", settings.Format),
		zap.String("quality", settings.Quality),
		zap.String("path", res.Media.Path),
	)
	s.emit(Event{Type: EventExportCompleted})

	return &ExportResult{
		Media:      res.Media,
		Duration:   res.NewDuration,
		Settings:   settings,
		Transcript: transcript,
	}, nil
}

// SaveResult is what Save hands back to the host application
type SaveResult struct {
	Media      media.Media     `json:"media"`
	Duration   float64         `json:"duration"`
	Parameters edit.Parameters `json:"parameters"`
	Transcript string          `json:"transcript"`
}

// maxSaveAttempts bounds how often Save recommits after being overtaken by edits
const maxSaveAttempts = 3

// Save commits everything pending, clears the dirty flag and removes the
// recovery record. Edits made while committing are committed by another
// pass; when they keep arriving Save gives up with ErrStaleCommit and the
// session stays dirty.
func (s *Session) Save(ctx context.Context) (*SaveResult, error) {
	for attempt := 1; ; attempt++ {
		_, err := s.CommitAll(ctx)
		if err == nil {
			s.mu.Lock()
			if len(s.pending) == 0 {
				break // still locked
			}
			s.mu.Unlock()
			err = ErrStaleCommit
		}
		if !errors.Is(err, ErrStaleCommit) || attempt == maxSaveAttempts {
			return nil, err
		}
		s.logger.Info("Edits changed during save, committing again", zap.Int("attempt", attempt))
	}

	s.dirty = false
	s.savedSeq = s.changeSeq
	s.recovery = nil
	result := &SaveResult{
		Media:      s.committed,
		Duration:   s.duration,
		Parameters: s.params.Clone(),
		Transcript: edit.BuildTranscript(s.params.Subtitles),
	}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, s.cfg.ProjectID); err != nil {
		s.logger.Warn("Failed to delete auto-save record", zap.Error(err))
	}

	s.logger.Info("Session saved", zap.String("path", result.Media.Path))
	s.emit(Event{Type: EventSaved})
	return result, nil
}

// DiscardEdits cancels pipeline work and returns to the original source with
// a fresh baseline history.
func (s *Session) DiscardEdits(ctx context.Context) error {
	s.pipeline.Cancel()

	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	duration := s.cfg.Declared.Duration
	s.params = edit.DefaultParameters(duration)
	s.pending = edit.NewFamilySet()
	s.committed = s.original
	s.duration = duration
	s.ui = UIState{}
	s.playback.Playing = false
	s.timeline = newTimeline(duration)
	s.subtitles.ActiveID = ""
	for _, f := range edit.Families {
		s.generations[f]++
	}
	s.cache = make(map[edit.Family]cacheEntry)
	s.jobs = make(map[edit.Family]Job)
	s.history = nil
	s.cursor = 0
	s.pushHistoryLocked("initial")
	s.dirty = false
	s.changeSeq++
	s.savedSeq = s.changeSeq
	s.recovery = nil
	params := s.params.Clone()
	s.mu.Unlock()

	if err := s.store.Delete(ctx, s.cfg.ProjectID); err != nil {
		s.logger.Warn("Failed to delete auto-save record", zap.Error(err))
	}

	s.renderer.ClearCache()
	s.renderer.Redraw(params)
	s.renderer.SeekPreview(0)
	s.waveform.SetTrimRegion(0, duration)

	s.logger.Info("Edits discarded")
	s.emit(Event{Type: EventDiscarded})
	return nil
}

// Frame is a captured preview frame, either an encoded image from the
// renderer or a thumbnail produced by the pipeline
type Frame struct {
	Image []byte      `json:"-"`
	Media media.Media `json:"media,omitempty"`
	Time  float64     `json:"time"`
}

// CaptureFrame grabs the current preview frame, falling back to a pipeline
// thumbnail at the current playback position.
func (s *Session) CaptureFrame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	src := s.committed
	t := s.ui.CurrentTime
	s.mu.Unlock()

	if img := s.renderer.CaptureCurrentFrame(); img != nil {
		return &Frame{Image: img, Time: t}, nil
	}

	thumb, err := s.pipeline.GenerateThumbnail(ctx, src, t)
	if err != nil {
		return nil, &CommitFailure{Op: "capture frame", Err: err}
	}
	return &Frame{Media: thumb, Time: t}, nil
}
