// Package session implements the non-destructive edit session: parameter
// setters, per-family commits through the media pipeline, linear undo/redo
// history and throttled auto-save with crash recovery.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nextconvert/editor/internal/modules/autosave"
	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/geometry"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/shared/metrics"
)

// State is the derived lifecycle state of a session
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StatePreviewing    State = "previewing"
	StateCommitting    State = "committing"
	StateClosed        State = "closed"
)

// Config describes one session
type Config struct {
	// ID is generated when empty
	ID        string
	ProjectID string
	Source    media.Media
	Declared  media.Declared

	AutoSaveInterval   time.Duration
	AutoSaveMinSpacing time.Duration
	AutoSaveStaleAfter time.Duration

	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = 5 * time.Second
	}
	if c.AutoSaveMinSpacing <= 0 {
		c.AutoSaveMinSpacing = 5 * time.Second
	}
	if c.AutoSaveStaleAfter <= 0 {
		c.AutoSaveStaleAfter = 24 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// UIState is the part of the editor view captured by history
type UIState struct {
	ActivePanel string  `json:"activePanel"`
	CurrentTime float64 `json:"currentTime"`
}

// Playback holds transport controls
type Playback struct {
	Playing bool    `json:"playing"`
	Volume  float64 `json:"volume"`
	Rate    float64 `json:"rate"`
	Muted   bool    `json:"muted"`
}

type cacheEntry struct {
	media      media.Media
	generation uint64
}

// Session is one editing session over one source video
type Session struct {
	id       string
	cfg      Config
	pipeline *media.Pipeline
	store    autosave.Store
	renderer PreviewRenderer
	waveform WaveformSync
	metrics  *metrics.Metrics
	logger   *zap.Logger

	group   singleflight.Group
	applyMu sync.Mutex

	mu          sync.Mutex
	phase       State
	params      edit.Parameters
	pending     edit.FamilySet
	original    media.Media
	committed   media.Media
	duration    float64
	generations map[edit.Family]uint64
	cache       map[edit.Family]cacheEntry
	jobs        map[edit.Family]Job
	inflight    int
	history     []HistoryEntry
	cursor      int
	ui          UIState
	playback    Playback
	timeline    Timeline
	subtitles   SubtitleView
	export      media.ExportSettings
	quality     PreviewQuality
	caching     bool
	lastActive  time.Time

	dirty            bool
	changeSeq        uint64
	savedSeq         uint64
	lastSaveAt       time.Time
	autoSaveDisabled bool
	recovery         *autosave.Record

	obsMu        sync.Mutex
	observers    map[int]func(Event)
	nextObserver int

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a session. It is unusable until Initialize returns.
func New(cfg Config, pipeline *media.Pipeline, store autosave.Store, renderer PreviewRenderer, waveform WaveformSync, m *metrics.Metrics, logger *zap.Logger) *Session {
	cfg.applyDefaults()
	if renderer == nil {
		renderer = NopRenderer{}
	}
	if waveform == nil {
		waveform = NopWaveform{}
	}
	if store == nil {
		store = autosave.NewMemoryStore()
	}

	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	s := &Session{
		id:          id,
		cfg:         cfg,
		pipeline:    pipeline,
		store:       store,
		renderer:    renderer,
		waveform:    waveform,
		metrics:     m,
		logger:      logger.With(zap.String("session_id", id), zap.String("project_id", cfg.ProjectID)),
		phase:       StateUninitialized,
		params:      edit.DefaultParameters(cfg.Declared.Duration),
		pending:     edit.NewFamilySet(),
		original:    cfg.Source,
		committed:   cfg.Source,
		duration:    cfg.Declared.Duration,
		generations: make(map[edit.Family]uint64),
		cache:       make(map[edit.Family]cacheEntry),
		jobs:        make(map[edit.Family]Job),
		playback:    Playback{Volume: 1, Rate: 1},
		timeline:    newTimeline(cfg.Declared.Duration),
		subtitles:   SubtitleView{Visible: true},
		export:      media.DefaultExportSettings(),
		quality:     QualityBalanced,
		caching:     true,
		lastActive:  cfg.Now(),
		observers:   make(map[int]func(Event)),
		stop:        make(chan struct{}),
	}

	pipeline.SetProgressSink(func(phase string, percent int) {
		s.emit(Event{Type: EventProgress, Phase: phase, Percent: percent})
	})
	return s
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// ProjectID returns the project the session edits
func (s *Session) ProjectID() string { return s.cfg.ProjectID }

func (s *Session) now() time.Time { return s.cfg.Now() }

// Initialize loads the encoding engine, checks for a recovery offer and
// records the baseline history entry.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != StateUninitialized {
		phase := s.phase
		s.mu.Unlock()
		if phase == StateClosed {
			return ErrClosed
		}
		return nil
	}
	s.phase = StateInitializing
	s.mu.Unlock()
	s.emit(Event{Type: EventStateChanged, State: StateInitializing})

	// The preview works without the engine; the pipeline reloads lazily.
	if err := s.pipeline.Load(ctx); err != nil {
		s.logger.Warn("Encoding engine failed to load", zap.Error(err))
	}

	if _, err := s.CheckAutoSave(ctx); err != nil {
		s.logger.Warn("Auto-save check failed", zap.Error(err))
	}

	s.mu.Lock()
	if s.phase == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.phase = StateReady
	s.pushHistoryLocked("initial")
	params := s.params.Clone()
	duration := s.duration
	s.wg.Add(1)
	s.mu.Unlock()

	go s.autoSaveLoop()

	s.waveform.SetTrimRegion(0, duration)
	s.renderer.Redraw(params)

	s.logger.Info("Session ready", zap.Float64("duration", duration))
	s.emit(Event{Type: EventStateChanged, State: StateReady})
	return nil
}

// State returns the derived lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	if s.phase != StateReady {
		return s.phase
	}
	if s.inflight > 0 {
		return StateCommitting
	}
	if s.playback.Playing {
		return StatePreviewing
	}
	return StateReady
}

func (s *Session) checkMutableLocked() error {
	switch s.phase {
	case StateReady:
		s.lastActive = s.now()
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// Parameters returns a deep copy of the current parameters.
func (s *Session) Parameters() edit.Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Clone()
}

// HasPendingChanges reports whether family has uncommitted edits.
func (s *Session) HasPendingChanges(family edit.Family) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Has(family)
}

// Committed returns the media that previews and commits start from.
func (s *Session) Committed() media.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Duration returns the duration of the committed media.
func (s *Session) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// IdleSince returns the time of the last mutation.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) declaredLocked() media.Declared {
	return media.Declared{
		Duration: s.duration,
		Width:    s.cfg.Declared.Width,
		Height:   s.cfg.Declared.Height,
	}
}

func (s *Session) sourceRatio() float64 {
	return geometry.SourceRatio(s.cfg.Declared.Width, s.cfg.Declared.Height)
}

// Snapshot is a read-only view of the whole session
type Snapshot struct {
	ID               string               `json:"id"`
	ProjectID        string               `json:"projectId"`
	State            State                `json:"state"`
	Parameters       edit.Parameters      `json:"parameters"`
	Pending          []edit.Family        `json:"pending"`
	Original         media.Media          `json:"original"`
	Committed        media.Media          `json:"committed"`
	Duration         float64              `json:"duration"`
	Width            int                  `json:"width"`
	Height           int                  `json:"height"`
	UI               UIState              `json:"ui"`
	Playback         Playback             `json:"playback"`
	Timeline         Timeline             `json:"timeline"`
	Subtitles        SubtitleView         `json:"subtitles"`
	Export           media.ExportSettings `json:"exportSettings"`
	PreviewQuality   PreviewQuality       `json:"previewQuality"`
	FrameCaching     bool                 `json:"frameCaching"`
	CanUndo          bool                 `json:"canUndo"`
	CanRedo          bool                 `json:"canRedo"`
	HistoryLength    int                  `json:"historyLength"`
	HistoryIndex     int                  `json:"historyIndex"`
	Dirty            bool                 `json:"dirty"`
	AutoSaveDisabled bool                 `json:"autoSaveDisabled"`
	RecoveryOffered  bool                 `json:"recoveryOffered"`
	Jobs             map[edit.Family]Job  `json:"jobs,omitempty"`
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make(map[edit.Family]Job, len(s.jobs))
	for f, j := range s.jobs {
		jobs[f] = j
	}
	return Snapshot{
		ID:               s.id,
		ProjectID:        s.cfg.ProjectID,
		State:            s.stateLocked(),
		Parameters:       s.params.Clone(),
		Pending:          s.pending.List(),
		Original:         s.original,
		Committed:        s.committed,
		Duration:         s.duration,
		Width:            s.cfg.Declared.Width,
		Height:           s.cfg.Declared.Height,
		UI:               s.ui,
		Playback:         s.playback,
		Timeline:         s.timeline.clone(),
		Subtitles:        s.subtitles,
		Export:           s.export,
		PreviewQuality:   s.quality,
		FrameCaching:     s.caching,
		CanUndo:          s.cursor > 0,
		CanRedo:          s.cursor < len(s.history)-1,
		HistoryLength:    len(s.history),
		HistoryIndex:     s.cursor,
		Dirty:            s.dirty,
		AutoSaveDisabled: s.autoSaveDisabled,
		RecoveryOffered:  s.recovery != nil,
		Jobs:             jobs,
	}
}

// Cancel aborts queued and running pipeline work. Callers waiting on those
// jobs receive a CommitFailure wrapping media.ErrCancelled.
func (s *Session) Cancel() {
	s.logger.Info("Cancelling pipeline work")
	s.pipeline.Cancel()
}

// Close stops auto-save, saves a final recovery record when dirty and shuts
// down the pipeline. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasReady := s.phase == StateReady
		s.phase = StateClosed
		s.mu.Unlock()

		close(s.stop)
		if wasReady {
			s.autoSave(context.Background(), true)
		}
		err = s.pipeline.Close()
		s.wg.Wait()

		s.logger.Info("Session closed")
		s.emit(Event{Type: EventClosed, State: StateClosed})
	})
	return err
}
