package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/autosave"
	"github.com/nextconvert/editor/internal/modules/geometry"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/shared/metrics"
	"github.com/nextconvert/editor/internal/shared/storage"
)

// EngineFactory builds a dedicated encoding engine for one session
type EngineFactory func(sessionID string) (media.Engine, error)

// CollaboratorFactory builds the renderer and waveform for one session.
// Either may be nil.
type CollaboratorFactory func(sessionID string) (PreviewRenderer, WaveformSync)

// ManagerConfig holds the settings shared by every session
type ManagerConfig struct {
	Pipeline           media.PipelineConfig
	AutoSaveInterval   time.Duration
	AutoSaveMinSpacing time.Duration
	AutoSaveStaleAfter time.Duration
	IdleTimeout        time.Duration
}

// CreateRequest opens a session over an uploaded file
type CreateRequest struct {
	ProjectID string         `json:"projectId"`
	FileID    string         `json:"fileId"`
	Declared  media.Declared `json:"declared"`
}

// Manager owns the live sessions of this process
type Manager struct {
	cfg           ManagerConfig
	storage       *storage.Service
	store         autosave.Store
	newEngine     EngineFactory
	collaborators CollaboratorFactory
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	observer func(Event)
}

// NewManager creates a session manager
func NewManager(cfg ManagerConfig, store *storage.Service, autosaves autosave.Store, newEngine EngineFactory, collaborators CollaboratorFactory, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if collaborators == nil {
		collaborators = func(string) (PreviewRenderer, WaveformSync) { return nil, nil }
	}
	return &Manager{
		cfg:           cfg,
		storage:       store,
		store:         autosaves,
		newEngine:     newEngine,
		collaborators: collaborators,
		metrics:       m,
		logger:        logger,
		sessions:      make(map[string]*Session),
	}
}

// SetObserver receives the events of every session created afterwards,
// including those raised during initialization.
func (m *Manager) SetObserver(fn func(Event)) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// Create builds, initializes and registers a session over a file from the
// upload zone. Unknown source duration or dimensions are probed from the media.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.FileID == "" {
		return nil, &ValidationError{Field: "fileId", Err: fmt.Errorf("fileId is required")}
	}
	if !geometry.Finite(req.Declared.Duration) {
		return nil, &ValidationError{Field: "declared", Err: fmt.Errorf("duration must be a finite number")}
	}
	info, err := m.storage.Locate(ctx, storage.ZoneUpload, req.FileID)
	if errors.Is(err, storage.ErrFileNotFound) {
		return nil, &ValidationError{Field: "fileId", Err: fmt.Errorf("no uploaded file %q", req.FileID)}
	}
	if err != nil {
		return nil, err
	}
	source := media.Media{Path: info.Path, ContentType: info.MimeType, Size: info.Size}
	if req.ProjectID == "" {
		req.ProjectID = uuid.New().String()
	}

	id := uuid.New().String()
	engine, err := m.newEngine(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoding engine: %w", err)
	}

	if req.Declared.Duration <= 0 || req.Declared.Width <= 0 || req.Declared.Height <= 0 {
		req.Declared, err = m.probeDeclared(ctx, engine, source, req.Declared)
		if err != nil {
			return nil, err
		}
	}

	renderer, waveform := m.collaborators(id)
	pipeline := media.NewPipeline(engine, m.storage, m.cfg.Pipeline, m.metrics, m.logger.With(zap.String("session_id", id)))
	s := New(Config{
		ID:                 id,
		ProjectID:          req.ProjectID,
		Source:             source,
		Declared:           req.Declared,
		AutoSaveInterval:   m.cfg.AutoSaveInterval,
		AutoSaveMinSpacing: m.cfg.AutoSaveMinSpacing,
		AutoSaveStaleAfter: m.cfg.AutoSaveStaleAfter,
	}, pipeline, m.store, renderer, waveform, m.metrics, m.logger)

	m.mu.RLock()
	observer := m.observer
	m.mu.RUnlock()
	if observer != nil {
		s.Subscribe(observer)
	}

	if err := s.Initialize(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.metrics.RecordSessionOpened()

	m.logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("project_id", req.ProjectID),
		zap.String("file_id", req.FileID),
	)
	return s, nil
}

func (m *Manager) probeDeclared(ctx context.Context, engine media.Engine, src media.Media, declared media.Declared) (media.Declared, error) {
	if err := os.MkdirAll(engine.WorkDir(), 0755); err != nil {
		return declared, fmt.Errorf("failed to create work directory: %w", err)
	}
	input, cleanup, err := m.storage.PrepareInputForProcessing(ctx, src.Path, engine.WorkDir())
	if err != nil {
		return declared, &ValidationError{Field: "source", Err: err}
	}
	defer cleanup()

	info, err := engine.Probe(ctx, input)
	if err != nil {
		if declared.Duration > 0 {
			m.logger.Warn("Probe failed, using declared values", zap.String("source", src.Path), zap.Error(err))
			return declared, nil
		}
		return declared, &ValidationError{Field: "source", Err: err}
	}

	if declared.Duration <= 0 {
		declared.Duration = info.Duration
	}
	if declared.Width <= 0 || declared.Height <= 0 {
		declared.Width, declared.Height = info.Width, info.Height
	}
	// A trim window needs a positive length
	if !(declared.Duration > 0) || !geometry.Finite(declared.Duration) {
		return declared, &ValidationError{Field: "source", Err: fmt.Errorf("source has no playable duration")}
	}
	return declared, nil
}

// Get returns a live session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close closes and forgets a session
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	m.metrics.RecordSessionClosed()
	return s.Close()
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session, e.g. on shutdown
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		m.metrics.RecordSessionClosed()
		if err := s.Close(); err != nil {
			m.logger.Warn("Failed to close session", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// RunReaper closes sessions idle longer than the idle timeout until ctx is done
func (m *Manager) RunReaper(ctx context.Context) {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.reapIdle(now)
		}
	}
}

func (m *Manager) reapIdle(now time.Time) int {
	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.State() == StateCommitting {
			continue
		}
		if now.Sub(s.IdleSince()) > m.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.logger.Info("Closing idle session", zap.String("session_id", id))
		if err := m.Close(id); err != nil && err != ErrSessionNotFound {
			m.logger.Warn("Failed to close idle session", zap.String("session_id", id), zap.Error(err))
		}
	}
	return len(idle)
}
