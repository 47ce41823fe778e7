package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/autosave"
	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/geometry"
	"github.com/nextconvert/editor/internal/modules/jobs"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/modules/session"
)

// SessionHandler exposes edit sessions over REST
type SessionHandler struct {
	manager *session.Manager
	exports *jobs.Module
	logger  *zap.Logger
}

// NewSessionHandler creates a session handler. exports may be nil, in which
// case exports render in process.
func NewSessionHandler(manager *session.Manager, exports *jobs.Module, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		exports: exports,
		logger:  logger,
	}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

// mutate runs fn on the addressed session and answers with its snapshot
func (h *SessionHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(s *session.Session) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := fn(s); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Create opens a session over a stored source
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	s, err := h.manager.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

// Get returns the session snapshot
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// Delete closes the session, writing a final recovery record when dirty
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Close(chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) SetCrop(w http.ResponseWriter, r *http.Request) {
	var crop geometry.Crop
	if err := decodeJSON(r, &crop); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.mutate(w, r, func(s *session.Session) error { return s.SetCrop(crop) })
}

func (h *SessionHandler) SetTrim(w http.ResponseWriter, r *http.Request) {
	var trim edit.Trim
	if err := decodeJSON(r, &trim); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.mutate(w, r, func(s *session.Session) error { return s.SetTrim(trim) })
}

func (h *SessionHandler) SetTransform(w http.ResponseWriter, r *http.Request) {
	var t edit.Transform
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.mutate(w, r, func(s *session.Session) error { return s.SetTransform(t) })
}

// SetFilters sets one or more filters as a single history entry
func (h *SessionHandler) SetFilters(w http.ResponseWriter, r *http.Request) {
	var values map[string]float64
	if err := decodeJSON(r, &values); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.mutate(w, r, func(s *session.Session) error { return s.SetFilters(values) })
}

// AspectRatioRequest selects a preset or custom ratio
type AspectRatioRequest struct {
	Ratio  geometry.AspectRatio  `json:"ratio"`
	Custom *geometry.CustomRatio `json:"custom,omitempty"`
}

func (h *SessionHandler) SetAspectRatio(w http.ResponseWriter, r *http.Request) {
	var req AspectRatioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.mutate(w, r, func(s *session.Session) error { return s.SetAspectRatio(req.Ratio, req.Custom) })
}

func (h *SessionHandler) SetExportSettings(w http.ResponseWriter, r *http.Request) {
	var settings media.ExportSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.mutate(w, r, func(s *session.Session) error { return s.SetExportSettings(settings) })
}

// PreviewRequest changes preview controls; absent fields are left alone
type PreviewRequest struct {
	Quality      *string `json:"quality,omitempty"`
	FrameCaching *bool   `json:"frameCaching,omitempty"`
	ActivePanel  *string `json:"activePanel,omitempty"`
}

func (h *SessionHandler) SetPreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.mutate(w, r, func(s *session.Session) error {
		if req.Quality != nil {
			if err := s.SetPreviewQuality(*req.Quality); err != nil {
				return err
			}
		}
		if req.FrameCaching != nil {
			if err := s.SetFrameCaching(*req.FrameCaching); err != nil {
				return err
			}
		}
		if req.ActivePanel != nil {
			return s.SetActivePanel(*req.ActivePanel)
		}
		return nil
	})
}

func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, (*session.Session).ResetEdits)
}

// Apply commits one family. With ?background=true it returns 202 at once
// and the result is reported over the websocket and GET .../jobs/{family}.
func (h *SessionHandler) Apply(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	family := edit.Family(chi.URLParam(r, "family"))

	if background, _ := strconv.ParseBool(r.URL.Query().Get("background")); background {
		if err := s.ProcessEditInBackground(family); err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, s.JobStatus(family))
		return
	}

	if _, err := s.ApplyEdit(r.Context(), family); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) ApplyAll(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.Session) error {
		_, err := s.ApplyAllPendingChanges(r.Context())
		return err
	})
}

// JobStatus reports the latest apply job of one family
func (h *SessionHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	family := edit.Family(chi.URLParam(r, "family"))
	if !family.Valid() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unknown family", Code: "VALIDATION_ERROR", Field: "family"})
		return
	}
	job := s.JobStatus(family)
	if job == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no job for family", Code: "NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *SessionHandler) Undo(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, (*session.Session).Undo)
}

func (h *SessionHandler) Redo(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, (*session.Session).Redo)
}

// HistoryResponse lists history entries and the cursor
type HistoryResponse struct {
	Entries []session.HistoryEntry `json:"entries"`
	Index   int                    `json:"index"`
}

func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		entries, index := s.History()
		writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Index: index})
	}
}

// RecoveryResponse describes a pending recovery offer
type RecoveryResponse struct {
	Available bool             `json:"available"`
	Record    *autosave.Record `json:"record,omitempty"`
	Changes   []edit.Family    `json:"changes,omitempty"`
}

func (h *SessionHandler) GetRecovery(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	rec := s.Recovery()
	if rec == nil {
		writeJSON(w, http.StatusOK, RecoveryResponse{})
		return
	}
	writeJSON(w, http.StatusOK, RecoveryResponse{Available: true, Record: rec, Changes: s.RecoveryChanges()})
}

func (h *SessionHandler) AcceptRecovery(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.Session) error { return s.AcceptRecovery(r.Context()) })
}

func (h *SessionHandler) DeclineRecovery(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.Session) error { return s.DeclineRecovery(r.Context()) })
}

// AutoSave forces an auto-save attempt and reports whether a record was written
func (h *SessionHandler) AutoSave(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]bool{"saved": s.AutoSaveNow(r.Context())})
	}
}

func (h *SessionHandler) ListSubtitles(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, s.Subtitles())
	}
}

func (h *SessionHandler) AddSubtitle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var sub edit.Subtitle
	if err := decodeJSON(r, &sub); err != nil {
		writeError(w, h.logger, err)
		return
	}
	created, err := s.AddSubtitle(sub)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *SessionHandler) UpdateSubtitle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var sub edit.Subtitle
	if err := decodeJSON(r, &sub); err != nil {
		writeError(w, h.logger, err)
		return
	}
	updated, err := s.UpdateSubtitle(chi.URLParam(r, "subtitleId"), sub)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *SessionHandler) DeleteSubtitle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.DeleteSubtitle(chi.URLParam(r, "subtitleId")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) ActivateSubtitle(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.Session) error { return s.SetActiveSubtitle(chi.URLParam(r, "subtitleId")) })
}

func (h *SessionHandler) ToggleSubtitles(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.Session) error {
		_, err := s.ToggleSubtitles()
		return err
	})
}

// SeekRequest moves the playhead
type SeekRequest struct {
	Time float64 `json:"time"`
}

func (h *SessionHandler) Seek(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SeekRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	t, err := s.Seek(req.Time)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, SeekRequest{Time: t})
}

func (h *SessionHandler) Play(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, (*session.Session).Play)
}

func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, (*session.Session).Pause)
}

// PlaybackRequest changes transport settings; absent fields are left alone
type PlaybackRequest struct {
	Volume     *float64 `json:"volume,omitempty"`
	Rate       *float64 `json:"rate,omitempty"`
	ToggleMute bool     `json:"toggleMute,omitempty"`
}

func (h *SessionHandler) SetPlayback(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req PlaybackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Volume != nil {
		if _, err := s.SetVolume(*req.Volume); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	if req.Rate != nil {
		if _, err := s.SetPlaybackRate(*req.Rate); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	if req.ToggleMute {
		if _, err := s.ToggleMute(); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.Playback())
}

func (h *SessionHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, s.Timeline())
	}
}

// TimelineRequest zooms or scrolls the timeline
type TimelineRequest struct {
	Zoom     *float64 `json:"zoom,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

func (h *SessionHandler) SetTimeline(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req TimelineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Zoom != nil {
		if _, err := s.SetTimelineZoom(*req.Zoom); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	if req.Position != nil {
		if _, err := s.SetTimelinePosition(*req.Position); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.Timeline())
}

// FrameResponse is a captured frame; Image is base64 in JSON
type FrameResponse struct {
	Image []byte      `json:"image,omitempty"`
	Media media.Media `json:"media,omitempty"`
	Time  float64     `json:"time"`
}

func (h *SessionHandler) CaptureFrame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	frame, err := s.CaptureFrame(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, FrameResponse{Image: frame.Image, Media: frame.Media, Time: frame.Time})
}

// Export renders the session. With a worker queue configured the render is
// handed off and 202 carries the export job.
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if h.exports != nil {
		prepared, err := s.PrepareExport()
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		job, err := h.exports.SubmitExport(r.Context(), prepared)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	res, err := s.Export(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := s.Save(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SessionHandler) Discard(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.Session) error { return s.DiscardEdits(r.Context()) })
}

// Cancel aborts running and queued encodes of the session
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		s.Cancel()
		w.WriteHeader(http.StatusNoContent)
	}
}
