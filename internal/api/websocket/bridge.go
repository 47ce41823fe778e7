package websocket

import (
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/session"
)

// Commands sent to the browser preview and waveform
const (
	TypePreviewRedraw       = "preview:redraw"
	TypePreviewClearCache   = "preview:clearCache"
	TypePreviewQuality      = "preview:quality"
	TypePreviewFrameCaching = "preview:frameCaching"
	TypePreviewSeek         = "preview:seek"
	TypeWaveformTrimRegion  = "waveform:trimRegion"
	TypeWaveformSeek        = "waveform:seek"
	TypeWaveformZoom        = "waveform:zoom"

	// Sent by the browser with the frame currently shown
	TypePreviewFrame = "preview:frame"
)

// FramePayload carries an encoded preview frame; JSON encodes it as base64.
type FramePayload struct {
	Image []byte `json:"image"`
}

// TrimRegionPayload is the highlighted waveform region in seconds
type TrimRegionPayload struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ValuePayload carries a single scalar command argument
type ValuePayload struct {
	Value interface{} `json:"value"`
}

// RemoteRenderer drives a browser preview over the hub
type RemoteRenderer struct {
	hub       *Hub
	sessionID string
}

// RemoteWaveform drives a browser waveform over the hub
type RemoteWaveform struct {
	hub       *Hub
	sessionID string
}

// Collaborators returns the remote renderer and waveform for one session.
// It has the shape of session.CollaboratorFactory.
func (h *Hub) Collaborators(sessionID string) (session.PreviewRenderer, session.WaveformSync) {
	return &RemoteRenderer{hub: h, sessionID: sessionID}, &RemoteWaveform{hub: h, sessionID: sessionID}
}

func (h *Hub) command(sessionID, msgType string, payload interface{}) {
	if err := h.Publish(sessionID, msgType, payload); err != nil {
		h.logger.Warn("Failed to send preview command",
			zap.String("session_id", sessionID),
			zap.String("type", msgType),
			zap.Error(err),
		)
	}
}

func (r *RemoteRenderer) Redraw(params edit.Parameters) {
	r.hub.command(r.sessionID, TypePreviewRedraw, params)
}

func (r *RemoteRenderer) ClearCache() {
	r.hub.command(r.sessionID, TypePreviewClearCache, nil)
}

func (r *RemoteRenderer) SetQuality(q session.PreviewQuality) {
	r.hub.command(r.sessionID, TypePreviewQuality, ValuePayload{Value: q})
}

func (r *RemoteRenderer) SetFrameCaching(enabled bool) {
	r.hub.command(r.sessionID, TypePreviewFrameCaching, ValuePayload{Value: enabled})
}

// CaptureCurrentFrame returns the last frame the browser posted, or nil so
// the session falls back to a pipeline thumbnail.
func (r *RemoteRenderer) CaptureCurrentFrame() []byte {
	return r.hub.LatestFrame(r.sessionID)
}

func (r *RemoteRenderer) SeekPreview(t float64) {
	r.hub.command(r.sessionID, TypePreviewSeek, ValuePayload{Value: t})
}

func (w *RemoteWaveform) SetTrimRegion(start, end float64) {
	w.hub.command(w.sessionID, TypeWaveformTrimRegion, TrimRegionPayload{Start: start, End: end})
}

func (w *RemoteWaveform) SeekTo(t float64) {
	w.hub.command(w.sessionID, TypeWaveformSeek, ValuePayload{Value: t})
}

func (w *RemoteWaveform) SetZoom(zoom float64) {
	w.hub.command(w.sessionID, TypeWaveformZoom, ValuePayload{Value: zoom})
}
