package session

import (
	"math"

	"github.com/nextconvert/editor/internal/modules/edit"
)

const (
	minZoom        = 0.1
	maxZoom        = 5.0
	minRate        = 0.25
	maxRate        = 4.0
	markerInterval = 10.0
	segmentLength  = 30.0
	maxSegments    = 5
)

// Segment is one equal slice of the timeline
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Timeline is the zoomable time ruler under the preview
type Timeline struct {
	Zoom     float64   `json:"zoom"`
	Position float64   `json:"position"`
	Markers  []float64 `json:"markers"`
	Segments []Segment `json:"segments"`
}

func newTimeline(duration float64) Timeline {
	t := Timeline{Zoom: 1}
	return t.rebase(duration)
}

// rebase recomputes markers and segments for a new duration, keeping zoom.
func (t Timeline) rebase(duration float64) Timeline {
	out := Timeline{Zoom: t.Zoom, Position: clamp(t.Position, 0, math.Max(duration, 0))}
	if duration <= 0 {
		out.Markers = []float64{}
		out.Segments = []Segment{}
		return out
	}

	for m := 0.0; m <= duration; m += markerInterval {
		out.Markers = append(out.Markers, m)
	}

	n := int(math.Ceil(duration / segmentLength))
	if n > maxSegments {
		n = maxSegments
	}
	length := duration / float64(n)
	out.Segments = make([]Segment, n)
	for i := range out.Segments {
		out.Segments[i] = Segment{Start: float64(i) * length, End: float64(i+1) * length}
	}
	out.Segments[n-1].End = duration
	return out
}

func (t Timeline) clone() Timeline {
	out := t
	out.Markers = append([]float64(nil), t.Markers...)
	out.Segments = append([]Segment(nil), t.Segments...)
	return out
}

// clamp maps NaN to lo
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Play starts preview playback
func (s *Session) Play() error {
	return s.setPlaying(true)
}

// Pause stops preview playback
func (s *Session) Pause() error {
	return s.setPlaying(false)
}

func (s *Session) setPlaying(playing bool) error {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	changed := s.playback.Playing != playing
	s.playback.Playing = playing
	state := s.stateLocked()
	s.mu.Unlock()

	if changed {
		s.emit(Event{Type: EventStateChanged, State: state})
	}
	return nil
}

// Seek moves the playhead. The target is clamped to the media, and to the
// trim window while a trim is pending. It returns the applied position.
func (s *Session) Seek(t float64) (float64, error) {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	t = clamp(t, 0, s.duration)
	if s.pending.Has(edit.FamilyTrim) {
		t = clamp(t, s.params.Trim.StartTime, s.params.Trim.EndTime)
	}
	s.ui.CurrentTime = t
	s.mu.Unlock()

	s.renderer.SeekPreview(t)
	s.waveform.SeekTo(t)
	s.emit(Event{Type: EventPlaybackChanged, Action: "seek"})
	return t, nil
}

// CurrentTime returns the playhead position
func (s *Session) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ui.CurrentTime
}

// SetVolume sets the volume, clamped to [0, 1]
func (s *Session) SetVolume(v float64) (float64, error) {
	return s.updatePlayback(func(p *Playback) float64 {
		p.Volume = clamp(v, 0, 1)
		return p.Volume
	})
}

// SetPlaybackRate sets the rate, clamped to [0.25, 4]
func (s *Session) SetPlaybackRate(rate float64) (float64, error) {
	return s.updatePlayback(func(p *Playback) float64 {
		p.Rate = clamp(rate, minRate, maxRate)
		return p.Rate
	})
}

// ToggleMute flips the mute flag and reports the new value
func (s *Session) ToggleMute() (bool, error) {
	v, err := s.updatePlayback(func(p *Playback) float64 {
		p.Muted = !p.Muted
		if p.Muted {
			return 1
		}
		return 0
	})
	return v == 1, err
}

// Playback returns the transport state
func (s *Session) Playback() Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

func (s *Session) updatePlayback(fn func(p *Playback) float64) (float64, error) {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	v := fn(&s.playback)
	s.mu.Unlock()

	s.emit(Event{Type: EventPlaybackChanged})
	return v, nil
}

// SetTimelineZoom sets the zoom factor, clamped to [0.1, 5], and forwards it
// to the waveform.
func (s *Session) SetTimelineZoom(zoom float64) (float64, error) {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	zoom = clamp(zoom, minZoom, maxZoom)
	s.timeline.Zoom = zoom
	s.mu.Unlock()

	s.waveform.SetZoom(zoom)
	return zoom, nil
}

// SetTimelinePosition scrolls the timeline, clamped to [0, duration]
func (s *Session) SetTimelinePosition(pos float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutableLocked(); err != nil {
		return 0, err
	}
	s.timeline.Position = clamp(pos, 0, s.duration)
	return s.timeline.Position, nil
}

// Timeline returns a copy of the timeline state
func (s *Session) Timeline() Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.clone()
}
