package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/geometry"
)

func TestNewProcessor(t *testing.T) {
	logger := zap.NewNop()

	t.Run("creates processor with defaults", func(t *testing.T) {
		p := NewProcessor(ProcessorConfig{}, logger)
		assert.NotNil(t, p)
		assert.Equal(t, "ffmpeg", p.ffmpegPath)
		assert.Equal(t, "ffprobe", p.ffprobePath)
		assert.Equal(t, 0, p.maxThreads)
		assert.NotEmpty(t, p.WorkDir())
	})

	t.Run("creates processor with custom config", func(t *testing.T) {
		p := NewProcessor(ProcessorConfig{
			FFmpegPath: "/custom/ffmpeg",
			WorkDir:    "/tmp/work",
			MaxThreads: 4,
		}, logger)
		assert.Equal(t, "/custom/ffmpeg", p.ffmpegPath)
		assert.Equal(t, 4, p.maxThreads)
		assert.Equal(t, "/tmp/work", p.WorkDir())
	})
}

func TestParseProgress(t *testing.T) {
	stderr := "frame=1 fps=0.0 q=0.0 size=0kB time=00:00:15.00 bitrate=N/A\r" +
		"frame=2 fps=0.0 q=0.0 size=0kB time=00:00:30.50 bitrate=N/A\r" +
		"frame=3 fps=0.0 q=0.0 size=0kB time=00:00:30.55 bitrate=N/A\n" +
		"frame=4 fps=0.0 q=0.0 size=0kB time=00:02:00.00 bitrate=N/A\n"

	var got []int
	parseProgress(strings.NewReader(stderr), 60, func(p int) { got = append(got, p) })

	assert.Equal(t, []int{25, 50, 99}, got)
}

func TestParseProbeOutput(t *testing.T) {
	t.Run("reads format and streams", func(t *testing.T) {
		out := []byte(`{
			"format": {"format_name": "mov,mp4", "duration": "120.500000", "size": "1048576", "bit_rate": "6400000"},
			"streams": [
				{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001"},
				{"index": 1, "codec_type": "audio", "codec_name": "aac", "channels": 2, "sample_rate": "48000"}
			]
		}`)

		info, err := ParseProbeOutput(out)
		require.NoError(t, err)
		assert.Equal(t, 120.5, info.Duration)
		assert.Equal(t, 6400000, info.BitRate)
		assert.Equal(t, 1920, info.Width)
		assert.Equal(t, "aac", info.AudioCodec)
		assert.InDelta(t, 29.97, info.FrameRate, 0.01)
		assert.Len(t, info.Streams, 2)
		assert.Equal(t, 48000, info.Streams[1].SampleRate)
	})

	t.Run("rejects missing duration", func(t *testing.T) {
		_, err := ParseProbeOutput([]byte(`{"format": {"duration": "N/A"}, "streams": []}`))
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseProbeOutput([]byte("not json"))
		assert.Error(t, err)
	})
}

func TestBitrateKbps(t *testing.T) {
	tests := []struct {
		name string
		info *MediaInfo
		want int
	}{
		{"probed below cap", &MediaInfo{BitRate: 3_000_000}, 3000},
		{"probed above cap", &MediaInfo{BitRate: 12_000_000}, 5000},
		{"unknown bitrate", &MediaInfo{}, 2000},
		{"no info", nil, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bitrateKbps(tt.info, 2000, 5000))
		})
	}
}

func TestTrimArgs(t *testing.T) {
	args := trimReencodeArgs("in.mp4", "out.mp4", 10, 90, 2000)
	assert.Equal(t, []string{
		"-ss", "10.000", "-i", "in.mp4", "-t", "90.000",
		"-c:v", "libx264", "-preset", "veryfast", "-b:v", "2000k",
		"-c:a", "aac", "-b:a", "128k",
		"-avoid_negative_ts", "make_zero",
		"-movflags", "+faststart",
		"-max_muxing_queue_size", "9999",
		"out.mp4",
	}, args)

	copyArgs := trimCopyArgs("in.mp4", "out.mp4", 10, 90)
	assert.Contains(t, strings.Join(copyArgs, " "), "-c copy")
	assert.Equal(t, "out.mp4", copyArgs[len(copyArgs)-1])
}

func TestTransformFilters(t *testing.T) {
	tests := []struct {
		name string
		in   edit.Transform
		want []string
	}{
		{"identity", edit.Transform{}, nil},
		{"rotate 90", edit.Transform{Rotate: 90}, []string{"transpose=1"}},
		{"rotate 180", edit.Transform{Rotate: 180}, []string{"transpose=2,transpose=2"}},
		{"rotate 270 and flip", edit.Transform{Rotate: 270, FlipHorizontal: true}, []string{"transpose=2", "hflip"}},
		{"vertical flip", edit.Transform{FlipVertical: true}, []string{"vflip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transformFilters(tt.in))
		})
	}
}

func TestColorFilters(t *testing.T) {
	t.Run("neutral renders nothing", func(t *testing.T) {
		assert.Empty(t, colorFilters(edit.DefaultFilters()))
	})

	t.Run("eq values", func(t *testing.T) {
		f := edit.DefaultFilters()
		f[edit.FilterBrightness] = 150
		f[edit.FilterSaturation] = 50
		assert.Equal(t, []string{"eq=brightness=0.50:saturation=0.50"}, colorFilters(f))
	})

	t.Run("full grayscale uses the gray matrix", func(t *testing.T) {
		f := edit.DefaultFilters()
		f[edit.FilterGrayscale] = 100
		got := colorFilters(f)
		require.Len(t, got, 1)
		assert.Equal(t, "colorchannelmixer=rr=0.300:rg=0.400:rb=0.300:gr=0.300:gg=0.400:gb=0.300:br=0.300:bg=0.400:bb=0.300", got[0])
	})

	t.Run("partial sepia blends with identity", func(t *testing.T) {
		f := edit.DefaultFilters()
		f[edit.FilterSepia] = 40
		got := colorFilters(f)
		require.Len(t, got, 1)
		assert.Contains(t, got[0], "rr=0.757")
		assert.Contains(t, got[0], "rg=0.308")
	})
}

func TestCommitArgs(t *testing.T) {
	params := edit.DefaultParameters(120)
	params.Trim = edit.Trim{StartTime: 10, EndTime: 100}
	params.Crop = geometry.Crop{X: 25, Y: 0, Width: 50, Height: 100}
	params.Transform.Rotate = 90

	t.Run("mp4 chain in commit order", func(t *testing.T) {
		args := commitArgs("in.mp4", "out.mp4", params, 1920, 1080, 120, "/tmp/w/temp_subs.srt", DefaultExportSettings())
		joined := strings.Join(args, " ")

		assert.True(t, strings.HasPrefix(joined, "-ss 10.000 -i in.mp4 -t 90.000"))
		vf := args[indexOf(args, "-vf")+1]
		assert.Equal(t, "crop=960:1080:480:0,transpose=1,subtitles='/tmp/w/temp_subs.srt':force_style='FontName=Arial,FontSize=24'", vf)
		assert.Contains(t, joined, "-c:v libx264 -preset medium -crf 23")
	})

	t.Run("untrimmed has no seek", func(t *testing.T) {
		p := edit.DefaultParameters(120)
		args := commitArgs("in.mp4", "out.webm", p, 1920, 1080, 120, "", ExportSettings{Format: FormatWebM, Quality: QualityHigh})
		assert.Equal(t, "-i", args[0])
		assert.NotContains(t, args, "-vf")
		assert.Contains(t, strings.Join(args, " "), "-c:v libvpx-vp9 -crf 24")
	})

	t.Run("gif drops audio", func(t *testing.T) {
		p := edit.DefaultParameters(120)
		args := commitArgs("in.mp4", "out.gif", p, 1920, 1080, 120, "", ExportSettings{Format: FormatGIF, Quality: QualityLow})
		assert.Contains(t, args, "-an")
		assert.Contains(t, args[indexOf(args, "-vf")+1], "palettegen")
	})

	t.Run("aspect ratio letterboxes", func(t *testing.T) {
		p := edit.DefaultParameters(120)
		p.AspectRatio = geometry.Aspect1x1
		args := commitArgs("in.mp4", "out.mp4", p, 1920, 1080, 120, "", DefaultExportSettings())
		assert.Equal(t, "scale=1440:1440:force_original_aspect_ratio=decrease,pad=1440:1440:(ow-iw)/2:(oh-ih)/2", args[indexOf(args, "-vf")+1])
	})
}

func TestSanitizeSubtitleText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  plain  ", "plain"},
		{"<b>bold</b> move", "bold move"},
		{"line one<br>line two", "line one\nline two"},
		{"a &amp; b", "a & b"},
		{"<script>x()</script>safe", "safe"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeSubtitleText(tt.in))
		})
	}
}

func TestExportSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultExportSettings().Validate())
	assert.Error(t, ExportSettings{Format: "avi", Quality: QualityLow}.Validate())
	assert.Error(t, ExportSettings{Format: FormatMP4, Quality: "ultra"}.Validate())
}

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}
