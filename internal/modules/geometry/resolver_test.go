package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const tolerance = 0.01

func assertCrop(t *testing.T, expected, actual Crop) {
	t.Helper()
	assert.InDelta(t, expected.X, actual.X, tolerance, "x")
	assert.InDelta(t, expected.Y, actual.Y, tolerance, "y")
	assert.InDelta(t, expected.Width, actual.Width, tolerance, "width")
	assert.InDelta(t, expected.Height, actual.Height, tolerance, "height")
}

func TestResolveCrop(t *testing.T) {
	tests := []struct {
		name        string
		target      AspectRatio
		sourceRatio float64
		custom      *CustomRatio
		expected    Crop
	}{
		{
			name:        "landscape source to portrait target crops horizontally",
			target:      Aspect9x16,
			sourceRatio: 16.0 / 9.0,
			expected:    Crop{X: 34.18, Y: 0, Width: 31.64, Height: 100},
		},
		{
			name:        "portrait source to landscape target crops vertically",
			target:      Aspect16x9,
			sourceRatio: 9.0 / 16.0,
			expected:    Crop{X: 0, Y: 34.18, Width: 100, Height: 31.64},
		},
		{
			name:        "original returns full frame",
			target:      AspectOriginal,
			sourceRatio: 4.0 / 3.0,
			expected:    FullFrame(),
		},
		{
			name:        "matching ratio returns full frame",
			target:      Aspect16x9,
			sourceRatio: 16.0 / 9.0,
			expected:    FullFrame(),
		},
		{
			name:        "square from landscape",
			target:      Aspect1x1,
			sourceRatio: 16.0 / 9.0,
			expected:    Crop{X: 21.875, Y: 0, Width: 56.25, Height: 100},
		},
		{
			name:        "custom ratio",
			target:      AspectCustom,
			sourceRatio: 1,
			custom:      &CustomRatio{Width: 2, Height: 1},
			expected:    Crop{X: 0, Y: 25, Width: 100, Height: 50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveCrop(FullFrame(), tt.target, tt.sourceRatio, tt.custom)
			assertCrop(t, tt.expected, got)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestRecenterCrop(t *testing.T) {
	t.Run("keeps center of a repositioned crop", func(t *testing.T) {
		current := Crop{X: 10, Y: 10, Width: 40, Height: 40}
		got := RecenterCrop(current, Aspect1x1, 1, nil)
		assertCrop(t, current, got)
	})

	t.Run("narrows around the current center", func(t *testing.T) {
		current := Crop{X: 0, Y: 0, Width: 60, Height: 100}
		got := RecenterCrop(current, Aspect9x16, 16.0/9.0, nil)

		assert.InDelta(t, 100, got.Height, tolerance)
		assert.InDelta(t, 31.64, got.Width, tolerance)
		assert.InDelta(t, 30, got.X+got.Width/2, tolerance)
		assert.NoError(t, got.Validate())
	})

	t.Run("shrinks when the widened crop would not fit", func(t *testing.T) {
		current := Crop{X: 0, Y: 0, Width: 100, Height: 100}
		got := RecenterCrop(current, Aspect16x9, 1, nil)

		assert.InDelta(t, 100, got.Width, tolerance)
		assert.InDelta(t, 56.25, got.Height, tolerance)
		assert.NoError(t, got.Validate())
		assert.InDelta(t, 16.0/9.0, EffectiveRatio(got, 1), tolerance)
	})

	t.Run("clamps inside the frame near an edge", func(t *testing.T) {
		current := Crop{X: 80, Y: 0, Width: 20, Height: 50}
		got := RecenterCrop(current, Aspect1x1, 1, nil)
		assert.NoError(t, got.Validate())
		assert.InDelta(t, 50, got.Width, tolerance)
		assert.InDelta(t, 50, got.X, tolerance)
	})
}

func TestCropValidate(t *testing.T) {
	tests := []struct {
		name    string
		crop    Crop
		wantErr bool
	}{
		{"full frame", FullFrame(), false},
		{"inner rect", Crop{X: 10, Y: 20, Width: 50, Height: 50}, false},
		{"zero width", Crop{X: 0, Y: 0, Width: 0, Height: 10}, true},
		{"negative x", Crop{X: -1, Y: 0, Width: 10, Height: 10}, true},
		{"overflows right", Crop{X: 60, Y: 0, Width: 50, Height: 10}, true},
		{"overflows bottom", Crop{X: 0, Y: 90, Width: 10, Height: 20}, true},
		{"NaN origin", Crop{X: math.NaN(), Y: 0, Width: 10, Height: 10}, true},
		{"NaN width", Crop{X: 0, Y: 0, Width: math.NaN(), Height: 10}, true},
		{"infinite height", Crop{X: 0, Y: 0, Width: 10, Height: math.Inf(1)}, true},
		{"negative infinite y", Crop{X: 0, Y: math.Inf(-1), Width: 10, Height: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.crop.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNeedsAdjustment(t *testing.T) {
	assert.False(t, NeedsAdjustment(FullFrame(), Aspect16x9, 16.0/9.0, nil))
	assert.True(t, NeedsAdjustment(FullFrame(), Aspect9x16, 16.0/9.0, nil))
	assert.True(t, NeedsAdjustment(Crop{X: 10, Y: 10, Width: 20, Height: 20}, AspectOriginal, 1, nil))
}

func TestSourceRatio(t *testing.T) {
	assert.InDelta(t, 16.0/9.0, SourceRatio(0, 0), 1e-9)
	assert.InDelta(t, 0.5625, SourceRatio(1080, 1920), 1e-9)
}

func TestCropPixels(t *testing.T) {
	x, y, w, h := CropPixels(Crop{X: 25, Y: 10, Width: 50, Height: 33.3}, 1920, 1080)
	assert.Equal(t, 480, x)
	assert.Equal(t, 108, y)
	assert.Equal(t, 960, w)
	assert.Equal(t, 358, h)

	_, _, w, h = CropPixels(Crop{X: 0, Y: 0, Width: 0.01, Height: 0.01}, 100, 100)
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)
}

func TestEncodeDimensions(t *testing.T) {
	w, h := EncodeDimensions(1920, 1080, 1)
	assert.Equal(t, 1440, w)
	assert.Equal(t, 1440, h)

	w, h = EncodeDimensions(1920, 1080, 9.0/16.0)
	assert.Equal(t, 0, w%2)
	assert.Equal(t, 0, h%2)
	assert.InDelta(t, 1920*1080, w*h, 1920*1080*0.01)

	w, h = EncodeDimensions(0, 1080, 1)
	assert.Zero(t, w)
	assert.Zero(t, h)
}
