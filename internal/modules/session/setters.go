package session

import (
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/geometry"
	"github.com/nextconvert/editor/internal/modules/media"
)

// mutate applies fn to a copy of the parameters. On success the copy is
// adopted, every returned family becomes pending with a new generation and a
// history entry tagged action is pushed. On error nothing changes.
func (s *Session) mutate(action string, fn func(next *edit.Parameters, duration float64) ([]edit.Family, error)) error {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	next := s.params.Clone()
	families, err := fn(&next, s.duration)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.params = next
	for _, f := range families {
		s.pending.Add(f)
		s.generations[f]++
		delete(s.cache, f)
	}
	s.markDirtyLocked()
	s.pushHistoryLocked(action)
	params := s.params.Clone()
	s.mu.Unlock()

	for _, f := range families {
		s.metrics.RecordEdit(string(f))
	}
	s.renderer.ClearCache()
	s.renderer.Redraw(params)

	s.emit(Event{Type: EventParametersChanged, Action: action})
	return nil
}

// SetCrop replaces the crop rectangle
func (s *Session) SetCrop(c geometry.Crop) error {
	return s.mutate("crop", func(next *edit.Parameters, _ float64) ([]edit.Family, error) {
		if err := c.Validate(); err != nil {
			return nil, &ValidationError{Field: "crop", Err: err}
		}
		next.Crop = c
		return []edit.Family{edit.FamilyCrop}, nil
	})
}

// SetTrim replaces the trim window and moves the waveform region
func (s *Session) SetTrim(t edit.Trim) error {
	err := s.mutate("trim", func(next *edit.Parameters, duration float64) ([]edit.Family, error) {
		if err := edit.ValidateTrim(t, duration); err != nil {
			return nil, &ValidationError{Field: "trim", Err: err}
		}
		next.Trim = t
		return []edit.Family{edit.FamilyTrim}, nil
	})
	if err != nil {
		return err
	}
	s.waveform.SetTrimRegion(t.StartTime, t.EndTime)
	return nil
}

// SetTransform replaces rotation and mirroring
func (s *Session) SetTransform(t edit.Transform) error {
	return s.mutate("transform", func(next *edit.Parameters, _ float64) ([]edit.Family, error) {
		if err := edit.ValidateTransform(t); err != nil {
			return nil, &ValidationError{Field: "transform", Err: err}
		}
		next.Transform = t
		return []edit.Family{edit.FamilyTransform}, nil
	})
}

// SetFilter sets one named filter value
func (s *Session) SetFilter(name string, value float64) error {
	return s.mutate("filters", func(next *edit.Parameters, _ float64) ([]edit.Family, error) {
		if err := edit.ValidateFilter(name, value); err != nil {
			return nil, &ValidationError{Field: "filters", Err: err}
		}
		next.Filters[name] = value
		return []edit.Family{edit.FamilyFilters}, nil
	})
}

// SetFilters sets several filters as one history entry
func (s *Session) SetFilters(values map[string]float64) error {
	return s.mutate("filters", func(next *edit.Parameters, _ float64) ([]edit.Family, error) {
		for name, value := range values {
			if err := edit.ValidateFilter(name, value); err != nil {
				return nil, &ValidationError{Field: "filters", Err: err}
			}
			next.Filters[name] = value
		}
		return []edit.Family{edit.FamilyFilters}, nil
	})
}

// SetAspectRatio selects a target ratio. When the current crop no longer
// matches the target, the crop is resolved from full frame or recentred and
// both changes land in one history entry.
func (s *Session) SetAspectRatio(ratio geometry.AspectRatio, custom *geometry.CustomRatio) error {
	sourceRatio := s.sourceRatio()
	return s.mutate("aspectRatio", func(next *edit.Parameters, _ float64) ([]edit.Family, error) {
		if ratio == geometry.AspectCustom && custom == nil {
			custom = next.CustomAspectRatio
		}
		if err := edit.ValidateAspectRatio(ratio, custom); err != nil {
			return nil, &ValidationError{Field: "aspectRatio", Err: err}
		}

		next.AspectRatio = ratio
		next.CustomAspectRatio = nil
		if ratio == geometry.AspectCustom {
			c := *custom
			next.CustomAspectRatio = &c
		}

		families := []edit.Family{edit.FamilyAspectRatio}
		if geometry.NeedsAdjustment(next.Crop, ratio, sourceRatio, custom) {
			if next.Crop.IsFullFrame() {
				next.Crop = geometry.ResolveCrop(next.Crop, ratio, sourceRatio, custom)
			} else {
				next.Crop = geometry.RecenterCrop(next.Crop, ratio, sourceRatio, custom)
			}
			families = append(families, edit.FamilyCrop)
		}
		return families, nil
	})
}

// SetCustomAspectRatio selects a custom width:height target
func (s *Session) SetCustomAspectRatio(width, height int) error {
	return s.SetAspectRatio(geometry.AspectCustom, &geometry.CustomRatio{Width: width, Height: height})
}

// ResetEdits returns every family to its neutral value as one undoable step.
// Subtitles are kept.
func (s *Session) ResetEdits() error {
	return s.mutate("reset", func(next *edit.Parameters, duration float64) ([]edit.Family, error) {
		neutral := edit.DefaultParameters(duration)
		neutral.Subtitles = next.Subtitles
		*next = neutral
		return edit.Families, nil
	})
}

// SetActivePanel records which editor panel is open
func (s *Session) SetActivePanel(panel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	s.ui.ActivePanel = panel
	return nil
}

// SetPreviewQuality forwards a quality level to the renderer
func (s *Session) SetPreviewQuality(level string) error {
	q, err := parsePreviewQuality(level)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.quality = q
	s.mu.Unlock()

	s.renderer.SetQuality(q)
	return nil
}

// SetFrameCaching toggles renderer frame caching
func (s *Session) SetFrameCaching(enabled bool) error {
	s.mu.Lock()
	if err := s.checkMutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.caching = enabled
	s.mu.Unlock()

	s.renderer.SetFrameCaching(enabled)
	return nil
}

// SetExportSettings selects the format and quality used by Export
func (s *Session) SetExportSettings(settings media.ExportSettings) error {
	if err := settings.Validate(); err != nil {
		return &ValidationError{Field: "exportSettings", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	s.export = settings
	s.logger.Debug("Export settings changed", zap.String("format", settings.Format), zap.String("quality", settings.Quality))
	return nil
}

// ExportSettings returns the current export settings
func (s *Session) ExportSettings() media.ExportSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.export
}

func changedFamilies(prev, next edit.Parameters) []edit.Family {
	var out []edit.Family
	if prev.Trim != next.Trim {
		out = append(out, edit.FamilyTrim)
	}
	if prev.Crop != next.Crop {
		out = append(out, edit.FamilyCrop)
	}
	if prev.Transform != next.Transform {
		out = append(out, edit.FamilyTransform)
	}
	if !filtersEqual(prev.Filters, next.Filters) {
		out = append(out, edit.FamilyFilters)
	}
	if prev.AspectRatio != next.AspectRatio || !customEqual(prev.CustomAspectRatio, next.CustomAspectRatio) {
		out = append(out, edit.FamilyAspectRatio)
	}
	return out
}

func filtersEqual(a, b edit.Filters) bool {
	for name := range edit.FilterRanges {
		if a.Value(name) != b.Value(name) {
			return false
		}
	}
	return true
}

func customEqual(a, b *geometry.CustomRatio) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
