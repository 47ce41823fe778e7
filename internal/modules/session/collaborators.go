package session

import (
	"fmt"

	"github.com/nextconvert/editor/internal/modules/edit"
)

// PreviewQuality trades preview fidelity for speed
type PreviewQuality string

const (
	QualityLow      PreviewQuality = "low"
	QualityBalanced PreviewQuality = "balanced"
	QualityHigh     PreviewQuality = "high"
)

// Valid reports whether q is a known level.
func (q PreviewQuality) Valid() bool {
	switch q {
	case QualityLow, QualityBalanced, QualityHigh:
		return true
	}
	return false
}

// PreviewRenderer draws the current parameters over the committed media in
// real time. Calls must not block.
type PreviewRenderer interface {
	Redraw(params edit.Parameters)
	ClearCache()
	SetQuality(level PreviewQuality)
	SetFrameCaching(enabled bool)
	// CaptureCurrentFrame returns an encoded image, or nil when no frame is available.
	CaptureCurrentFrame() []byte
	SeekPreview(t float64)
}

// WaveformSync keeps the timeline waveform in step with the session
type WaveformSync interface {
	SetTrimRegion(start, end float64)
	SeekTo(t float64)
	SetZoom(factor float64)
}

// NopRenderer ignores every call
type NopRenderer struct{}

func (NopRenderer) Redraw(edit.Parameters)      {}
func (NopRenderer) ClearCache()                 {}
func (NopRenderer) SetQuality(PreviewQuality)   {}
func (NopRenderer) SetFrameCaching(bool)        {}
func (NopRenderer) CaptureCurrentFrame() []byte { return nil }
func (NopRenderer) SeekPreview(float64)         {}

// NopWaveform ignores every call
type NopWaveform struct{}

func (NopWaveform) SetTrimRegion(float64, float64) {}
func (NopWaveform) SeekTo(float64)                 {}
func (NopWaveform) SetZoom(float64)                {}

func parsePreviewQuality(level string) (PreviewQuality, error) {
	q := PreviewQuality(level)
	if !q.Valid() {
		return "", &ValidationError{Field: "previewQuality", Err: fmt.Errorf("unknown level %q", level)}
	}
	return q, nil
}
