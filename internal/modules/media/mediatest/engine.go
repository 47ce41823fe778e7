// Package mediatest provides a scriptable in-memory codec engine for tests
// that drive the real media pipeline.
package mediatest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextconvert/editor/internal/modules/media"
)

// Engine records every invocation and writes a small placeholder file for
// each output. Behaviour is scripted through the exported fields, which must
// be set before the engine is shared.
type Engine struct {
	Dir string

	// Info is returned by Probe for source paths unless ProbeFunc is set.
	Info *media.MediaInfo
	// ProbeFunc overrides Probe.
	ProbeFunc func(path string) (*media.MediaInfo, error)
	// FailFunc fails a Run when it returns an error.
	FailFunc func(args []string) error
	// LoadErr fails Load.
	LoadErr error
	// Gate, when set, blocks every Run until a value is received or the
	// context ends.
	Gate chan struct{}
	// Started receives the args of each Run as it begins, when set.
	Started chan []string

	mu        sync.Mutex
	calls     [][]string
	loads     int
	resets    int
	active    int
	maxActive int
}

// NewEngine returns an engine working in dir, probing as a 120 s 1920x1080 h264 file.
func NewEngine(dir string) *Engine {
	return &Engine{
		Dir: dir,
		Info: &media.MediaInfo{
			Format:     "mov,mp4,m4a,3gp,3g2,mj2",
			Duration:   120,
			BitRate:    8_000_000,
			VideoCodec: "h264",
			AudioCodec: "aac",
			Width:      1920,
			Height:     1080,
			FrameRate:  30,
		},
	}
}

// Load counts loads and creates the work dir.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	e.loads++
	e.mu.Unlock()
	if e.LoadErr != nil {
		return e.LoadErr
	}
	return os.MkdirAll(e.Dir, 0755)
}

// Run records args, honours Gate and FailFunc, then writes the output file.
func (e *Engine) Run(ctx context.Context, args []string, total float64, onProgress func(int)) error {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), args...))
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.Started != nil {
		select {
		case e.Started <- args:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if e.Gate != nil {
		select {
		case <-e.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if e.FailFunc != nil {
		if err := e.FailFunc(args); err != nil {
			return err
		}
	}

	if onProgress != nil {
		onProgress(50)
	}

	if len(args) == 0 {
		return errors.New("no output")
	}
	return os.WriteFile(args[len(args)-1], []byte("fake media"), 0644)
}

// Probe returns the scripted info. Files the engine wrote itself carry no
// metadata, so callers fall back to the length they asked for.
func (e *Engine) Probe(ctx context.Context, path string) (*media.MediaInfo, error) {
	if e.ProbeFunc != nil {
		return e.ProbeFunc(path)
	}
	if e.Info == nil || strings.HasPrefix(filepath.Base(path), "output_") {
		return nil, &media.ProbeError{Path: path, Err: errors.New("no metadata")}
	}
	info := *e.Info
	return &info, nil
}

// Reset counts resets and empties the work dir.
func (e *Engine) Reset() error {
	e.mu.Lock()
	e.resets++
	e.mu.Unlock()

	entries, err := os.ReadDir(e.Dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		os.RemoveAll(filepath.Join(e.Dir, entry.Name()))
	}
	return nil
}

// WorkDir returns Dir.
func (e *Engine) WorkDir() string {
	return e.Dir
}

// Calls returns a copy of every recorded invocation.
func (e *Engine) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns the number of Run invocations.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// Loads returns how often Load was called.
func (e *Engine) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

// Resets returns how often Reset was called.
func (e *Engine) Resets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}

// MaxConcurrent is the highest number of overlapping Run calls seen.
func (e *Engine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive
}

// HasArg reports whether args contains value.
func HasArg(args []string, value string) bool {
	for _, a := range args {
		if a == value {
			return true
		}
	}
	return false
}

// ArgAfter returns the argument following flag, or "".
func ArgAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// FailWhen fails any Run whose args contain value.
func FailWhen(value string) func([]string) error {
	return func(args []string) error {
		if HasArg(args, value) || strings.Contains(strings.Join(args, " "), value) {
			return errors.New("scripted failure: " + value)
		}
		return nil
	}
}
