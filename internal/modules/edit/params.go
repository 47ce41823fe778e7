// Package edit defines the edit parameter set shared by the session engine,
// the media pipeline and the auto-save stores.
package edit

import (
	"sort"

	"github.com/nextconvert/editor/internal/modules/geometry"
)

// Family groups parameters that are committed, cached and undone together
type Family string

const (
	FamilyCrop        Family = "crop"
	FamilyTrim        Family = "trim"
	FamilyTransform   Family = "transform"
	FamilyFilters     Family = "filters"
	FamilyAspectRatio Family = "aspectRatio"
)

// Families lists every family in commit order.
var Families = []Family{FamilyTrim, FamilyCrop, FamilyTransform, FamilyFilters, FamilyAspectRatio}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	for _, known := range Families {
		if f == known {
			return true
		}
	}
	return false
}

// Trim is a time window in seconds
type Trim struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// Duration returns the length of the window.
func (t Trim) Duration() float64 {
	return t.EndTime - t.StartTime
}

// Transform holds rotation and mirroring
type Transform struct {
	Rotate         int  `json:"rotate"`
	FlipHorizontal bool `json:"flipHorizontal"`
	FlipVertical   bool `json:"flipVertical"`
}

// IsIdentity reports whether the transform is a no-op.
func (t Transform) IsIdentity() bool {
	return t.Rotate == 0 && !t.FlipHorizontal && !t.FlipVertical
}

// Subtitle is a single timed caption
type Subtitle struct {
	ID        string        `json:"id"`
	StartTime float64       `json:"startTime"`
	EndTime   float64       `json:"endTime"`
	Text      string        `json:"text"`
	Position  string        `json:"position,omitempty"`
	Style     SubtitleStyle `json:"style"`
}

// SubtitleStyle describes how a caption is drawn
type SubtitleStyle struct {
	FontSize        int    `json:"fontSize,omitempty"`
	Color           string `json:"color,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Bold            bool   `json:"bold,omitempty"`
	Italic          bool   `json:"italic,omitempty"`
}

// Parameters is the full, possibly uncommitted edit state
type Parameters struct {
	AspectRatio       geometry.AspectRatio  `json:"aspectRatio"`
	CustomAspectRatio *geometry.CustomRatio `json:"customAspectRatio,omitempty"`
	Crop              geometry.Crop         `json:"crop"`
	Trim              Trim                  `json:"trim"`
	Transform         Transform             `json:"transform"`
	Filters           Filters               `json:"filters"`
	Subtitles         []Subtitle            `json:"subtitles"`
}

// DefaultParameters returns neutral parameters covering the whole source.
func DefaultParameters(duration float64) Parameters {
	return Parameters{
		AspectRatio: geometry.AspectOriginal,
		Crop:        geometry.FullFrame(),
		Trim:        Trim{StartTime: 0, EndTime: duration},
		Filters:     DefaultFilters(),
		Subtitles:   []Subtitle{},
	}
}

// Clone returns a deep copy; history snapshots never share slices or maps.
func (p Parameters) Clone() Parameters {
	out := p
	if p.CustomAspectRatio != nil {
		custom := *p.CustomAspectRatio
		out.CustomAspectRatio = &custom
	}
	out.Filters = p.Filters.Clone()
	out.Subtitles = make([]Subtitle, len(p.Subtitles))
	copy(out.Subtitles, p.Subtitles)
	return out
}

// Neutralize resets every family not in keep to its no-op value, so that a
// combined encode does not re-apply edits already baked into the source.
func (p Parameters) Neutralize(keep FamilySet, duration float64) Parameters {
	out := p.Clone()
	neutral := DefaultParameters(duration)
	if !keep.Has(FamilyCrop) {
		out.Crop = neutral.Crop
	}
	if !keep.Has(FamilyTrim) {
		out.Trim = neutral.Trim
	}
	if !keep.Has(FamilyTransform) {
		out.Transform = neutral.Transform
	}
	if !keep.Has(FamilyFilters) {
		out.Filters = neutral.Filters
	}
	if !keep.Has(FamilyAspectRatio) {
		out.AspectRatio = neutral.AspectRatio
		out.CustomAspectRatio = nil
	}
	return out
}

// SortedSubtitles returns subtitles ordered by start time.
func (p Parameters) SortedSubtitles() []Subtitle {
	out := make([]Subtitle, len(p.Subtitles))
	copy(out, p.Subtitles)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

// FamilySet is a set of edit families
type FamilySet map[Family]struct{}

// NewFamilySet builds a set from the given families.
func NewFamilySet(families ...Family) FamilySet {
	s := make(FamilySet, len(families))
	for _, f := range families {
		s[f] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s FamilySet) Has(f Family) bool {
	_, ok := s[f]
	return ok
}

// Add inserts f.
func (s FamilySet) Add(f Family) {
	s[f] = struct{}{}
}

// Remove deletes f.
func (s FamilySet) Remove(f Family) {
	delete(s, f)
}

// Clone copies the set.
func (s FamilySet) Clone() FamilySet {
	out := make(FamilySet, len(s))
	for f := range s {
		out[f] = struct{}{}
	}
	return out
}

// List returns members in commit order.
func (s FamilySet) List() []Family {
	out := make([]Family, 0, len(s))
	for _, f := range Families {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
