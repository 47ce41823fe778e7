// Package geometry converts aspect-ratio targets into crop rectangles.
// Crop values are percentages of the source frame.
package geometry

import (
	"fmt"
	"math"
)

// AspectRatio is a named output aspect ratio
type AspectRatio string

const (
	AspectOriginal AspectRatio = "original"
	Aspect16x9     AspectRatio = "16:9"
	Aspect4x3      AspectRatio = "4:3"
	Aspect1x1      AspectRatio = "1:1"
	Aspect9x16     AspectRatio = "9:16"
	AspectCustom   AspectRatio = "custom"
)

// DefaultSourceRatio is used when the source dimensions are unknown.
const DefaultSourceRatio = 16.0 / 9.0

// ratioTolerance is how far two ratios may drift before a crop is adjusted.
const ratioTolerance = 0.01

// Crop is a rectangle in percent of the source frame
type Crop struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CustomRatio is a user-defined width:height pair
type CustomRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FullFrame returns the uncropped rectangle.
func FullFrame() Crop {
	return Crop{X: 0, Y: 0, Width: 100, Height: 100}
}

// IsFullFrame reports whether c covers the whole source.
func (c Crop) IsFullFrame() bool {
	return c.X == 0 && c.Y == 0 && c.Width == 100 && c.Height == 100
}

// Validate checks the crop lies inside the frame with positive extent.
func (c Crop) Validate() error {
	const eps = 1e-9
	switch {
	case !Finite(c.X, c.Y, c.Width, c.Height):
		return fmt.Errorf("crop values must be finite numbers")
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("crop width and height must be positive")
	case c.X < 0 || c.Y < 0:
		return fmt.Errorf("crop origin must not be negative")
	case c.X+c.Width > 100+eps:
		return fmt.Errorf("crop x+width exceeds 100 (%.2f)", c.X+c.Width)
	case c.Y+c.Height > 100+eps:
		return fmt.Errorf("crop y+height exceeds 100 (%.2f)", c.Y+c.Height)
	}
	return nil
}

// Finite reports whether every value is a real number, neither NaN nor infinite.
func Finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Valid reports whether the custom ratio has positive sides.
func (r CustomRatio) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// SourceRatio returns width/height, falling back to 16:9 for unknown sizes.
func SourceRatio(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return DefaultSourceRatio
	}
	return float64(width) / float64(height)
}

// TargetRatio converts a named ratio to width/height.
// Original resolves to the source ratio; custom without a valid pair falls back to 16:9.
func TargetRatio(target AspectRatio, sourceRatio float64, custom *CustomRatio) float64 {
	switch target {
	case Aspect16x9:
		return 16.0 / 9.0
	case Aspect4x3:
		return 4.0 / 3.0
	case Aspect1x1:
		return 1
	case Aspect9x16:
		return 9.0 / 16.0
	case AspectCustom:
		if custom != nil && custom.Valid() {
			return float64(custom.Width) / float64(custom.Height)
		}
		return DefaultSourceRatio
	default:
		return sourceRatio
	}
}

// ResolveCrop keeps the largest centered region of the source that has the
// target ratio. The current crop is ignored; see RecenterCrop.
func ResolveCrop(_ Crop, target AspectRatio, sourceRatio float64, custom *CustomRatio) Crop {
	if target == AspectOriginal {
		return FullFrame()
	}

	ratio := TargetRatio(target, sourceRatio, custom)

	switch {
	case ratio > sourceRatio:
		h := 100 * sourceRatio / ratio
		return Crop{X: 0, Y: (100 - h) / 2, Width: 100, Height: h}
	case ratio < sourceRatio:
		w := 100 * ratio / sourceRatio
		return Crop{X: (100 - w) / 2, Y: 0, Width: w, Height: 100}
	default:
		return FullFrame()
	}
}

// RecenterCrop reshapes current to the target ratio around its own center,
// keeping the unchanged side and shrinking when the result would not fit.
func RecenterCrop(current Crop, target AspectRatio, sourceRatio float64, custom *CustomRatio) Crop {
	if target == AspectOriginal {
		return FullFrame()
	}

	ratio := TargetRatio(target, sourceRatio, custom)
	centerX := current.X + current.Width/2
	centerY := current.Y + current.Height/2
	currentRatio := EffectiveRatio(current, sourceRatio)

	w, h := current.Width, current.Height
	switch {
	case ratio > currentRatio:
		w = h * ratio / sourceRatio
		if w > 100 {
			w = 100
			h = 100 * sourceRatio / ratio
		}
	case ratio < currentRatio:
		h = w * sourceRatio / ratio
		if h > 100 {
			h = 100
			w = 100 * ratio / sourceRatio
		}
	}

	return Crop{
		X:      clamp(centerX-w/2, 0, 100-w),
		Y:      clamp(centerY-h/2, 0, 100-h),
		Width:  w,
		Height: h,
	}
}

// EffectiveRatio is the pixel aspect ratio of the cropped region.
func EffectiveRatio(c Crop, sourceRatio float64) float64 {
	if c.Height <= 0 {
		return sourceRatio
	}
	return c.Width / c.Height * sourceRatio
}

// NeedsAdjustment reports whether the crop ratio is off target.
func NeedsAdjustment(c Crop, target AspectRatio, sourceRatio float64, custom *CustomRatio) bool {
	if target == AspectOriginal {
		return !c.IsFullFrame()
	}
	ratio := TargetRatio(target, sourceRatio, custom)
	return math.Abs(EffectiveRatio(c, sourceRatio)-ratio) > ratioTolerance
}

// CropPixels converts a percentage crop into an even-sized pixel rectangle.
func CropPixels(c Crop, width, height int) (x, y, w, h int) {
	x = int(math.Floor(c.X / 100 * float64(width)))
	y = int(math.Floor(c.Y / 100 * float64(height)))
	w = evenFloor(int(math.Floor(c.Width / 100 * float64(width))))
	h = evenFloor(int(math.Floor(c.Height / 100 * float64(height))))

	if x+w > width {
		w = evenFloor(width - x)
	}
	if y+h > height {
		h = evenFloor(height - y)
	}
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	return x, y, w, h
}

// EncodeDimensions keeps the source pixel area while switching to ratio.
// Both sides are rounded to even numbers for yuv420p encoders.
func EncodeDimensions(width, height int, ratio float64) (int, int) {
	if width <= 0 || height <= 0 || ratio <= 0 {
		return 0, 0
	}
	area := float64(width * height)
	h := math.Sqrt(area / ratio)
	w := h * ratio
	return evenRound(w), evenRound(h)
}

func evenFloor(v int) int {
	if v%2 != 0 {
		v--
	}
	return v
}

func evenRound(v float64) int {
	n := int(math.Round(v/2)) * 2
	if n < 2 {
		n = 2
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Max(lo, math.Min(v, hi))
}
