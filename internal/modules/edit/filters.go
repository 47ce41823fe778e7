package edit

import (
	"fmt"
	"sort"

	"github.com/nextconvert/editor/internal/modules/geometry"
)

// Filter names
const (
	FilterNone       = "none"
	FilterGrayscale  = "grayscale"
	FilterSepia      = "sepia"
	FilterBrightness = "brightness"
	FilterContrast   = "contrast"
	FilterSaturation = "saturation"
)

// FilterRange is the accepted interval and no-op value for one filter
type FilterRange struct {
	Min     float64
	Max     float64
	Neutral float64
}

// FilterRanges defines every known filter.
var FilterRanges = map[string]FilterRange{
	FilterNone:       {Min: 0, Max: 0, Neutral: 0},
	FilterGrayscale:  {Min: 0, Max: 100, Neutral: 0},
	FilterSepia:      {Min: 0, Max: 100, Neutral: 0},
	FilterBrightness: {Min: 0, Max: 200, Neutral: 100},
	FilterContrast:   {Min: 0, Max: 200, Neutral: 100},
	FilterSaturation: {Min: 0, Max: 200, Neutral: 100},
}

// Filters maps a filter name to its intensity
type Filters map[string]float64

// DefaultFilters returns every filter at its neutral value.
func DefaultFilters() Filters {
	f := make(Filters, len(FilterRanges))
	for name, r := range FilterRanges {
		f[name] = r.Neutral
	}
	return f
}

// Clone copies the map.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Value returns the intensity for name, or its neutral value when unset.
func (f Filters) Value(name string) float64 {
	if v, ok := f[name]; ok {
		return v
	}
	return FilterRanges[name].Neutral
}

// IsNeutral reports whether no filter changes the image.
func (f Filters) IsNeutral() bool {
	for name, r := range FilterRanges {
		if f.Value(name) != r.Neutral {
			return false
		}
	}
	return true
}

// ValidateFilter checks a single filter assignment.
func ValidateFilter(name string, value float64) error {
	r, ok := FilterRanges[name]
	if !ok {
		return fmt.Errorf("unknown filter %q (known: %v)", name, filterNames())
	}
	if !geometry.Finite(value) || value < r.Min || value > r.Max {
		return fmt.Errorf("filter %s value %.2f outside [%.0f, %.0f]", name, value, r.Min, r.Max)
	}
	return nil
}

func filterNames() []string {
	names := make([]string, 0, len(FilterRanges))
	for name := range FilterRanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
