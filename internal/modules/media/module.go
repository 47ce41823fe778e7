package media

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nextconvert/editor/internal/modules/edit"
)

// Operation names, used for phases, artifact names and metrics labels
const (
	OpTrim        = "trim"
	OpCrop        = "crop"
	OpTransform   = "transform"
	OpFilters     = "filters"
	OpAspectRatio = "aspectRatio"
	OpCommit      = "commit"
	OpThumbnail   = "thumbnail"
	OpProbe       = "probe"
)

// OpForFamily maps an edit family to its pipeline operation.
func OpForFamily(f edit.Family) string {
	switch f {
	case edit.FamilyTrim:
		return OpTrim
	case edit.FamilyCrop:
		return OpCrop
	case edit.FamilyTransform:
		return OpTransform
	case edit.FamilyFilters:
		return OpFilters
	case edit.FamilyAspectRatio:
		return OpAspectRatio
	}
	return string(f)
}

// Media is a resolvable reference to stored media
type Media struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// IsZero reports whether m references nothing.
func (m Media) IsZero() bool {
	return m.Path == ""
}

// Declared holds what the session already knows about its source
type Declared struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// TrimResult is a trim commit; the caller re-baselines its timeline to NewDuration
type TrimResult struct {
	Media       Media   `json:"media"`
	NewDuration float64 `json:"newDuration"`
	Strategy    string  `json:"strategy"`
}

// CommitResult is the output of a single-pass encode of every family
type CommitResult struct {
	Media       Media   `json:"media"`
	NewDuration float64 `json:"newDuration"`
}

// Export formats and qualities
const (
	FormatMP4  = "mp4"
	FormatWebM = "webm"
	FormatGIF  = "gif"

	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// ExportSettings selects the container and quality of a full commit
type ExportSettings struct {
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// DefaultExportSettings is mp4 at medium quality.
func DefaultExportSettings() ExportSettings {
	return ExportSettings{Format: FormatMP4, Quality: QualityMedium}
}

// Validate checks format and quality names.
func (s ExportSettings) Validate() error {
	switch s.Format {
	case FormatMP4, FormatWebM, FormatGIF:
	default:
		return fmt.Errorf("unsupported export format %q", s.Format)
	}
	switch s.Quality {
	case QualityLow, QualityMedium, QualityHigh:
	default:
		return fmt.Errorf("unsupported export quality %q", s.Quality)
	}
	return nil
}

// MediaInfo contains metadata about a media file
type MediaInfo struct {
	Format     string       `json:"format"`
	Duration   float64      `json:"duration"`
	Size       int64        `json:"size"`
	BitRate    int          `json:"bitRate"`
	VideoCodec string       `json:"videoCodec,omitempty"`
	AudioCodec string       `json:"audioCodec,omitempty"`
	Width      int          `json:"width,omitempty"`
	Height     int          `json:"height,omitempty"`
	FrameRate  float64      `json:"frameRate,omitempty"`
	Streams    []StreamInfo `json:"streams"`
	Estimated  bool         `json:"estimated,omitempty"`
}

// StreamInfo contains information about a media stream
type StreamInfo struct {
	Index      int    `json:"index"`
	Type       string `json:"type"`
	Codec      string `json:"codec"`
	BitRate    int    `json:"bitRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// HasAudio reports whether an audio stream was found.
func (i *MediaInfo) HasAudio() bool {
	return i.AudioCodec != ""
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format struct {
		Filename   string `json:"filename"`
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		Index        int    `json:"index"`
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		RFrameRate   string `json:"r_frame_rate,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
		BitRate      string `json:"bit_rate,omitempty"`
		Channels     int    `json:"channels,omitempty"`
		SampleRate   string `json:"sample_rate,omitempty"`
	} `json:"streams"`
}

// ParseProbeOutput decodes ffprobe JSON into MediaInfo.
// Output without a positive duration or a video stream is rejected.
func ParseProbeOutput(output []byte) (*MediaInfo, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(output, &probeData); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &MediaInfo{
		Format:  probeData.Format.FormatName,
		Streams: make([]StreamInfo, 0, len(probeData.Streams)),
	}

	if d, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if sz, err := strconv.ParseInt(probeData.Format.Size, 10, 64); err == nil {
		info.Size = sz
	}
	if br, err := strconv.Atoi(probeData.Format.BitRate); err == nil {
		info.BitRate = br
	}

	for _, stream := range probeData.Streams {
		streamInfo := StreamInfo{
			Index: stream.Index,
			Type:  stream.CodecType,
			Codec: stream.CodecName,
		}
		if br, err := strconv.Atoi(stream.BitRate); err == nil {
			streamInfo.BitRate = br
		}

		switch stream.CodecType {
		case "video":
			if info.VideoCodec != "" {
				break
			}
			info.VideoCodec = stream.CodecName
			info.Width = stream.Width
			info.Height = stream.Height
			info.FrameRate = parseFrameRate(stream.AvgFrameRate)
			if info.FrameRate == 0 {
				info.FrameRate = parseFrameRate(stream.RFrameRate)
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = stream.CodecName
			}
			streamInfo.Channels = stream.Channels
			if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
				streamInfo.SampleRate = sr
			}
		}

		info.Streams = append(info.Streams, streamInfo)
	}

	if info.Duration <= 0 {
		return nil, fmt.Errorf("ffprobe reported no duration")
	}
	if info.VideoCodec == "" {
		return info, fmt.Errorf("no video stream found")
	}

	return info, nil
}

// parseFrameRate reads "30000/1001" or "30/1".
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den <= 0 {
		return 0
	}
	return num / den
}

// fallbackInfo builds metadata from declared values when probing fails.
func fallbackInfo(declared Declared, defaultBitrateKbps int) *MediaInfo {
	return &MediaInfo{
		Duration:  declared.Duration,
		Width:     declared.Width,
		Height:    declared.Height,
		BitRate:   defaultBitrateKbps * 1000,
		Streams:   []StreamInfo{},
		Estimated: true,
	}
}

// bitrateKbps picks the encode bitrate: probed if known, else default, capped.
func bitrateKbps(info *MediaInfo, defaultKbps, maxKbps int) int {
	kbps := defaultKbps
	if info != nil && info.BitRate > 0 {
		kbps = info.BitRate / 1000
	}
	if kbps <= 0 {
		kbps = defaultKbps
	}
	if maxKbps > 0 && kbps > maxKbps {
		kbps = maxKbps
	}
	return kbps
}
