package edit

import (
	"fmt"
	"math"
	"strings"
)

// FormatSRTTime renders seconds as HH:MM:SS,mmm.
func FormatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	s := (ms % 60_000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// FormatTimecode renders seconds as HH:MM:SS.
func FormatTimecode(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// BuildSRT renders subtitles in start-time order. text maps each caption
// before it is written, e.g. to strip markup; nil keeps text as is.
func BuildSRT(subs []Subtitle, text func(string) string) string {
	var b strings.Builder
	sorted := Parameters{Subtitles: subs}.SortedSubtitles()
	for i, s := range sorted {
		body := s.Text
		if text != nil {
			body = text(body)
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, FormatSRTTime(s.StartTime), FormatSRTTime(s.EndTime), body)
	}
	return b.String()
}

// BuildTranscript renders "[HH:MM:SS - HH:MM:SS] text" lines in start order.
func BuildTranscript(subs []Subtitle) string {
	sorted := Parameters{Subtitles: subs}.SortedSubtitles()
	lines := make([]string, 0, len(sorted))
	for _, s := range sorted {
		lines = append(lines, fmt.Sprintf("[%s - %s] %s", FormatTimecode(s.StartTime), FormatTimecode(s.EndTime), s.Text))
	}
	return strings.Join(lines, "\n")
}
