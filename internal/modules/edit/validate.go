package edit

import (
	"fmt"
	"strings"

	"github.com/nextconvert/editor/internal/modules/geometry"
)

// ValidateTrim checks 0 <= start < end <= duration.
func ValidateTrim(t Trim, duration float64) error {
	switch {
	case !geometry.Finite(t.StartTime, t.EndTime):
		return fmt.Errorf("trim times must be finite numbers")
	case t.StartTime < 0:
		return fmt.Errorf("trim start %.3f is negative", t.StartTime)
	case t.EndTime <= t.StartTime:
		return fmt.Errorf("trim end %.3f must be after start %.3f", t.EndTime, t.StartTime)
	case duration > 0 && t.EndTime > duration:
		return fmt.Errorf("trim end %.3f exceeds duration %.3f", t.EndTime, duration)
	}
	return nil
}

// ValidateTransform accepts right-angle rotations only.
func ValidateTransform(t Transform) error {
	switch t.Rotate {
	case 0, 90, 180, 270:
		return nil
	default:
		return fmt.Errorf("rotation must be 0, 90, 180 or 270 (got %d)", t.Rotate)
	}
}

// ValidateAspectRatio checks the named ratio and, for custom, its pair.
func ValidateAspectRatio(ratio geometry.AspectRatio, custom *geometry.CustomRatio) error {
	switch ratio {
	case geometry.AspectOriginal, geometry.Aspect16x9, geometry.Aspect4x3, geometry.Aspect1x1, geometry.Aspect9x16:
		return nil
	case geometry.AspectCustom:
		if custom == nil || !custom.Valid() {
			return fmt.Errorf("custom aspect ratio needs positive width and height")
		}
		return nil
	default:
		return fmt.Errorf("unknown aspect ratio %q", ratio)
	}
}

// ValidateSubtitle checks timing and text.
func ValidateSubtitle(s Subtitle, duration float64) error {
	switch {
	case !geometry.Finite(s.StartTime, s.EndTime):
		return fmt.Errorf("subtitle times must be finite numbers")
	case s.StartTime < 0:
		return fmt.Errorf("subtitle start %.3f is negative", s.StartTime)
	case s.EndTime <= s.StartTime:
		return fmt.Errorf("subtitle end %.3f must be after start %.3f", s.EndTime, s.StartTime)
	case duration > 0 && s.StartTime >= duration:
		return fmt.Errorf("subtitle starts after the end of the video")
	case strings.TrimSpace(s.Text) == "":
		return fmt.Errorf("subtitle text is empty")
	}
	return nil
}

// Validate checks every invariant of a full parameter set.
func (p Parameters) Validate(duration float64) error {
	if err := p.Crop.Validate(); err != nil {
		return err
	}
	if err := ValidateTrim(p.Trim, duration); err != nil {
		return err
	}
	if err := ValidateTransform(p.Transform); err != nil {
		return err
	}
	if err := ValidateAspectRatio(p.AspectRatio, p.CustomAspectRatio); err != nil {
		return err
	}
	for name, v := range p.Filters {
		if err := ValidateFilter(name, v); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(p.Subtitles))
	for _, s := range p.Subtitles {
		if seen[s.ID] {
			return fmt.Errorf("duplicate subtitle id %s", s.ID)
		}
		seen[s.ID] = true
		if err := ValidateSubtitle(s, 0); err != nil {
			return err
		}
	}
	return nil
}
