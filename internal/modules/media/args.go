package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/geometry"
)

// Colour matrices for colorchannelmixer, row-major rr..bb
var (
	identityMatrix  = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	grayscaleMatrix = [9]float64{.3, .4, .3, .3, .4, .3, .3, .4, .3}
	sepiaMatrix     = [9]float64{.393, .769, .189, .349, .686, .168, .272, .534, .131}
)

// Trim strategies, in the order they are tried
const (
	StrategyReencode = "reencode"
	StrategyCopy     = "copy"
)

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func presetName(fast bool) string {
	if fast {
		return "veryfast"
	}
	return "medium"
}

// trimReencodeArgs cuts [start, start+duration) and re-encodes at kbps
func trimReencodeArgs(input, output string, start, duration float64, kbps int) []string {
	return []string{
		"-ss", seconds(start),
		"-i", input,
		"-t", seconds(duration),
		"-c:v", "libx264", "-preset", "veryfast",
		"-b:v", fmt.Sprintf("%dk", kbps),
		"-c:a", "aac", "-b:a", "128k",
		"-avoid_negative_ts", "make_zero",
		"-movflags", "+faststart",
		"-max_muxing_queue_size", "9999",
		output,
	}
}

// trimCopyArgs cuts without re-encoding; cut points snap to keyframes
func trimCopyArgs(input, output string, start, duration float64) []string {
	return []string{
		"-ss", seconds(start),
		"-i", input,
		"-t", seconds(duration),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		output,
	}
}

// videoFilterArgs wraps a filter chain in a standard h264 encode
func videoFilterArgs(input, output string, filters []string, fast bool) []string {
	args := []string{"-i", input}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	args = append(args,
		"-c:v", "libx264", "-preset", presetName(fast),
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		output,
	)
	return args
}

// thumbnailArgs grabs a single frame at t as JPEG
func thumbnailArgs(input, output string, t float64) []string {
	return []string{
		"-ss", seconds(t),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2",
		output,
	}
}

// cropFilter returns "" for a full-frame crop or unknown dimensions.
func cropFilter(c geometry.Crop, width, height int) string {
	if c.IsFullFrame() || width <= 0 || height <= 0 {
		return ""
	}
	x, y, w, h := geometry.CropPixels(c, width, height)
	return fmt.Sprintf("crop=%d:%d:%d:%d", w, h, x, y)
}

// transformFilters maps rotation and flips onto transpose/hflip/vflip.
func transformFilters(t edit.Transform) []string {
	var filters []string
	switch t.Rotate {
	case 90:
		filters = append(filters, "transpose=1")
	case 180:
		filters = append(filters, "transpose=2,transpose=2")
	case 270:
		filters = append(filters, "transpose=2")
	}
	if t.FlipHorizontal {
		filters = append(filters, "hflip")
	}
	if t.FlipVertical {
		filters = append(filters, "vflip")
	}
	return filters
}

// colorFilters renders non-neutral filters. Brightness, contrast and
// saturation share one eq filter; grayscale and sepia blend their matrix
// with identity by intensity.
func colorFilters(f edit.Filters) []string {
	var filters []string

	var eq []string
	if b := f.Value(edit.FilterBrightness); b != edit.FilterRanges[edit.FilterBrightness].Neutral {
		eq = append(eq, "brightness="+strconv.FormatFloat(b/100-1, 'f', 2, 64))
	}
	if c := f.Value(edit.FilterContrast); c != edit.FilterRanges[edit.FilterContrast].Neutral {
		eq = append(eq, "contrast="+strconv.FormatFloat(c/100, 'f', 2, 64))
	}
	if s := f.Value(edit.FilterSaturation); s != edit.FilterRanges[edit.FilterSaturation].Neutral {
		eq = append(eq, "saturation="+strconv.FormatFloat(s/100, 'f', 2, 64))
	}
	if len(eq) > 0 {
		filters = append(filters, "eq="+strings.Join(eq, ":"))
	}

	if g := f.Value(edit.FilterGrayscale); g > 0 {
		filters = append(filters, channelMixer(grayscaleMatrix, g/100))
	}
	if s := f.Value(edit.FilterSepia); s > 0 {
		filters = append(filters, channelMixer(sepiaMatrix, s/100))
	}
	return filters
}

func channelMixer(m [9]float64, amount float64) string {
	if amount > 1 {
		amount = 1
	}
	names := [9]string{"rr", "rg", "rb", "gr", "gg", "gb", "br", "bg", "bb"}
	parts := make([]string, 9)
	for i := range m {
		v := identityMatrix[i]*(1-amount) + m[i]*amount
		parts[i] = names[i] + "=" + strconv.FormatFloat(v, 'f', 3, 64)
	}
	return "colorchannelmixer=" + strings.Join(parts, ":")
}

// aspectFilter letterboxes into width x height.
func aspectFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", width, height, width, height)
}

// subtitleFilter burns an SRT file in with the default caption style.
func subtitleFilter(srtPath string) string {
	return fmt.Sprintf("subtitles=%s:force_style='FontName=Arial,FontSize=24'", escapeFilterPath(srtPath))
}

// escapeFilterPath single-quotes a path for use as a filter option.
func escapeFilterPath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

// outputDimensions follows a frame through crop and rotation.
func outputDimensions(params edit.Parameters, width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	w, h := width, height
	if !params.Crop.IsFullFrame() {
		_, _, w, h = geometry.CropPixels(params.Crop, width, height)
	}
	if params.Transform.Rotate == 90 || params.Transform.Rotate == 270 {
		w, h = h, w
	}
	return w, h
}

// crfFor maps quality names onto codec CRF values.
func crfFor(format, quality string) int {
	if format == FormatWebM {
		switch quality {
		case QualityLow:
			return 40
		case QualityHigh:
			return 24
		default:
			return 32
		}
	}
	switch quality {
	case QualityLow:
		return 28
	case QualityHigh:
		return 18
	default:
		return 23
	}
}

// commitFilters builds the full chain in commit order: crop, transform,
// colour, aspect ratio, then subtitles.
func commitFilters(params edit.Parameters, width, height int, srtPath string) []string {
	var filters []string

	if f := cropFilter(params.Crop, width, height); f != "" {
		filters = append(filters, f)
	}
	filters = append(filters, transformFilters(params.Transform)...)
	filters = append(filters, colorFilters(params.Filters)...)

	if params.AspectRatio != geometry.AspectOriginal {
		w, h := outputDimensions(params, width, height)
		ratio := geometry.TargetRatio(params.AspectRatio, geometry.SourceRatio(w, h), params.CustomAspectRatio)
		if tw, th := geometry.EncodeDimensions(w, h, ratio); tw > 0 {
			filters = append(filters, aspectFilter(tw, th))
		}
	}

	if srtPath != "" {
		filters = append(filters, subtitleFilter(srtPath))
	}
	return filters
}

// commitArgs encodes every family in one pass. The trim window is applied
// with input seeking, so it must be neutral when trim was already committed.
func commitArgs(input, output string, params edit.Parameters, width, height int, duration float64, srtPath string, settings ExportSettings) []string {
	var args []string
	trimmed := params.Trim.StartTime > 0 || (duration > 0 && params.Trim.EndTime < duration)
	if trimmed {
		args = append(args, "-ss", seconds(params.Trim.StartTime))
	}
	args = append(args, "-i", input)
	if trimmed {
		args = append(args, "-t", seconds(params.Trim.Duration()))
	}

	filters := commitFilters(params, width, height, srtPath)
	crf := strconv.Itoa(crfFor(settings.Format, settings.Quality))

	switch settings.Format {
	case FormatGIF:
		filters = append(filters, "fps=10,scale=480:-2:flags=lanczos,split[s0][s1];[s0]palettegen[p];[s1][p]paletteuse")
		args = append(args, "-vf", strings.Join(filters, ","), "-an", "-loop", "0")
	case FormatWebM:
		if len(filters) > 0 {
			args = append(args, "-vf", strings.Join(filters, ","))
		}
		args = append(args,
			"-c:v", "libvpx-vp9", "-crf", crf, "-b:v", "0", "-row-mt", "1",
			"-c:a", "libopus",
		)
	default:
		if len(filters) > 0 {
			args = append(args, "-vf", strings.Join(filters, ","))
		}
		args = append(args,
			"-c:v", "libx264", "-preset", "medium", "-crf", crf,
			"-c:a", "aac", "-b:a", "128k",
			"-movflags", "+faststart",
		)
	}

	return append(args, output)
}

// extensionFor returns the output file extension for a format.
func extensionFor(format string) string {
	switch format {
	case FormatWebM:
		return ".webm"
	case FormatGIF:
		return ".gif"
	default:
		return ".mp4"
	}
}
