package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/nextconvert/editor/internal/modules/edit"
)

// SanitizeSubtitleText strips markup from caption text. <br> becomes a line
// break; anything that fails to parse is returned trimmed.
func SanitizeSubtitleText(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return strings.TrimSpace(text)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.TrimSpace(text)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("script, style").Remove()

	lines := strings.Split(doc.Text(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// writeSubtitles renders subs as an SRT file in dir. It returns "" when
// there is nothing to burn in.
func writeSubtitles(dir string, subs []edit.Subtitle) (string, error) {
	if len(subs) == 0 {
		return "", nil
	}

	path := filepath.Join(dir, "temp_subtitles_"+uuid.New().String()+".srt")
	body := edit.BuildSRT(subs, SanitizeSubtitleText)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return "", fmt.Errorf("failed to write subtitles: %w", err)
	}
	return path, nil
}
