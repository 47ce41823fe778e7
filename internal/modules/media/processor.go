package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Engine is a stateful codec engine. Only one Run may be in flight at a time;
// the Pipeline guarantees that.
type Engine interface {
	// Load prepares the engine. It is called lazily and again after Reset.
	Load(ctx context.Context) error
	// Run executes one codec invocation. total is the expected output length
	// in seconds, used to turn engine output into a percentage.
	Run(ctx context.Context, args []string, total float64, onProgress func(percent int)) error
	// Probe reads metadata of a local file.
	Probe(ctx context.Context, path string) (*MediaInfo, error)
	// Reset kills any running invocation and wipes the working directory.
	Reset() error
	// WorkDir is where intermediate files are written.
	WorkDir() string
}

// ProcessorConfig configures the FFmpeg engine
type ProcessorConfig struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
	MaxThreads  int // 0 = unlimited
}

// Processor is an Engine backed by the ffmpeg and ffprobe binaries
type Processor struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	maxThreads  int
	logger      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewProcessor creates an FFmpeg engine writing intermediates under cfg.WorkDir
func NewProcessor(cfg ProcessorConfig, logger *zap.Logger) *Processor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "editor")
	}
	return &Processor{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		workDir:     cfg.WorkDir,
		maxThreads:  cfg.MaxThreads,
		logger:      logger,
	}
}

// Load checks the ffmpeg binary and creates the working directory
func (p *Processor) Load(ctx context.Context) error {
	if err := os.MkdirAll(p.workDir, 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	out, err := exec.CommandContext(ctx, p.ffmpegPath, "-hide_banner", "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to load FFmpeg: %w", err)
	}

	version := strings.SplitN(string(out), "\n", 2)[0]
	p.logger.Info("FFmpeg engine loaded", zap.String("version", version), zap.String("workDir", p.workDir))
	return nil
}

// Run executes ffmpeg with args and reports progress from its stderr
func (p *Processor) Run(ctx context.Context, args []string, total float64, onProgress func(int)) error {
	full := []string{"-hide_banner", "-y"}
	if p.maxThreads > 0 {
		full = append(full, "-threads", strconv.Itoa(p.maxThreads))
	}
	full = append(full, args...)

	p.logger.Info("Executing FFmpeg", zap.Strings("args", full))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
	}()

	cmd := exec.CommandContext(runCtx, p.ffmpegPath, full...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	tail := &tailBuffer{max: 2048}
	done := make(chan struct{})
	go func() {
		defer close(done)
		parseProgress(io.TeeReader(stderr, tail), total, onProgress)
	}()

	<-done
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("FFmpeg execution failed: %w: %s", err, strings.TrimSpace(tail.String()))
	}

	return nil
}

// Probe extracts metadata using ffprobe
func (p *Processor) Probe(ctx context.Context, inputPath string) (*MediaInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	output, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		return nil, &ProbeError{Path: inputPath, Err: fmt.Errorf("ffprobe failed: %w", err)}
	}

	info, err := ParseProbeOutput(output)
	if err != nil {
		return nil, &ProbeError{Path: inputPath, Err: err}
	}
	return info, nil
}

// Reset kills the running ffmpeg process, if any, and empties the work dir
func (p *Processor) Reset() error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	entries, err := os.ReadDir(p.workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read work dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(p.workDir, e.Name())); err != nil {
			p.logger.Warn("Failed to remove work file", zap.String("file", e.Name()), zap.Error(err))
		}
	}

	p.logger.Info("FFmpeg engine reset", zap.String("workDir", p.workDir))
	return nil
}

// WorkDir returns the intermediate file directory
func (p *Processor) WorkDir() string {
	return p.workDir
}

var progressRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)

// parseProgress turns ffmpeg "time=" updates into percentages of total.
// Values are clamped to [0, 99]; 100 is reported by the caller on success.
func parseProgress(stderr io.Reader, total float64, onProgress func(int)) {
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanCRLF)

	last := -1
	for scanner.Scan() {
		if onProgress == nil || total <= 0 {
			continue
		}
		matches := progressRegex.FindStringSubmatch(scanner.Text())
		if len(matches) == 0 {
			continue
		}

		hours, _ := strconv.Atoi(matches[1])
		minutes, _ := strconv.Atoi(matches[2])
		seconds, _ := strconv.Atoi(matches[3])
		frac, _ := strconv.ParseFloat("0."+matches[4], 64)
		elapsed := float64(hours*3600+minutes*60+seconds) + frac

		percent := int(elapsed / total * 100)
		if percent < 0 {
			percent = 0
		}
		if percent > 99 {
			percent = 99
		}
		if percent != last {
			last = percent
			onProgress(percent)
		}
	}
}

// scanCRLF splits on \r or \n; ffmpeg rewrites its status line with \r.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last max bytes written, for error messages.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
