package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/geometry"
	"github.com/nextconvert/editor/internal/shared/metrics"
	"github.com/nextconvert/editor/internal/shared/storage"
)

// ProgressFunc receives coarse progress of the running operation
type ProgressFunc func(phase string, percent int)

// PipelineConfig configures timeouts and encode defaults
type PipelineConfig struct {
	OpTimeout          time.Duration
	LoadTimeout        time.Duration
	DefaultBitrateKbps int
	MaxBitrateKbps     int
	FastPresets        bool
}

func (c *PipelineConfig) applyDefaults() {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 60 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.DefaultBitrateKbps <= 0 {
		c.DefaultBitrateKbps = 2000
	}
	if c.MaxBitrateKbps <= 0 {
		c.MaxBitrateKbps = 5000
	}
}

// Pipeline serializes every operation against a single Engine. Callers
// block until their job completes; jobs run strictly in submission order.
type Pipeline struct {
	engine  Engine
	storage *storage.Service
	cfg     PipelineConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	pending []*job
	current *job
	loaded  bool
	closed  bool
	sink    ProgressFunc

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

type job struct {
	op   string
	ctx  context.Context
	exec func(ctx context.Context, report func(int)) error

	// guarded by Pipeline.mu
	cancel    context.CancelFunc
	cancelled bool

	once sync.Once
	done chan struct{}
	err  error
}

func (j *job) finish(err error) {
	j.once.Do(func() {
		j.err = err
		close(j.done)
	})
}

// NewPipeline starts the worker. m may be nil.
func NewPipeline(engine Engine, store *storage.Service, cfg PipelineConfig, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		engine:  engine,
		storage: store,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// SetProgressSink replaces the progress sink. nil disables reporting.
func (p *Pipeline) SetProgressSink(sink ProgressFunc) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// Load initializes the engine through the queue
func (p *Pipeline) Load(ctx context.Context) error {
	return p.submit(ctx, "load", func(context.Context, func(int)) error { return nil })
}

// QueueDepth returns the number of waiting jobs, excluding the running one
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Cancel discards every queued job, aborts the running one and forces the
// engine to be reloaded before new work.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	queued := p.pending
	p.pending = nil
	if cur := p.current; cur != nil {
		cur.cancelled = true
		if cur.cancel != nil {
			cur.cancel()
		}
	}
	p.mu.Unlock()

	for _, j := range queued {
		j.finish(ErrCancelled)
	}
	p.metrics.SetQueueDepth(0)
	p.resetEngine("cancel")

	p.logger.Info("Pipeline cancelled", zap.Int("discarded", len(queued)))
}

// Close cancels all work and stops the worker
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	queued := p.pending
	p.pending = nil
	if cur := p.current; cur != nil {
		cur.cancelled = true
		if cur.cancel != nil {
			cur.cancel()
		}
	}
	p.mu.Unlock()

	for _, j := range queued {
		j.finish(ErrPipelineClosed)
	}
	close(p.quit)
	p.wg.Wait()

	return p.engine.Reset()
}

func (p *Pipeline) submit(ctx context.Context, op string, exec func(context.Context, func(int)) error) error {
	j := &job{op: op, ctx: ctx, exec: exec, done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	p.pending = append(p.pending, j)
	depth := len(p.pending)
	p.mu.Unlock()

	p.metrics.SetQueueDepth(depth)
	select {
	case p.wake <- struct{}{}:
	default:
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		p.abandon(j, ctx.Err())
		<-j.done
	}
	return j.err
}

// abandon drops j if it has not started; a running job sees its context end.
func (p *Pipeline) abandon(j *job, err error) {
	p.mu.Lock()
	for i, q := range p.pending {
		if q == j {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.mu.Unlock()
			j.finish(err)
			return
		}
	}
	p.mu.Unlock()
}

func (p *Pipeline) loop() {
	defer p.wg.Done()
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		p.run(j)
	}
}

func (p *Pipeline) next() (*job, bool) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, false
		}
		if len(p.pending) > 0 {
			j := p.pending[0]
			p.pending = p.pending[1:]
			p.current = j
			depth := len(p.pending)
			p.mu.Unlock()
			p.metrics.SetQueueDepth(depth)
			return j, true
		}
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.quit:
			return nil, false
		}
	}
}

func (p *Pipeline) run(j *job) {
	defer func() {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
	}()

	if err := j.ctx.Err(); err != nil {
		j.finish(err)
		return
	}
	if err := p.ensureLoaded(j.ctx); err != nil {
		p.metrics.RecordPipelineError(j.op, "load")
		j.finish(err)
		return
	}
	p.cleanArtifacts()

	runCtx, cancel := context.WithTimeout(j.ctx, p.cfg.OpTimeout)
	defer cancel()

	p.mu.Lock()
	if j.cancelled {
		p.mu.Unlock()
		j.finish(ErrCancelled)
		return
	}
	j.cancel = cancel
	p.mu.Unlock()

	start := time.Now()
	p.emit(j.op, 0)
	err := j.exec(runCtx, func(pct int) { p.emit(j.op, pct) })

	p.mu.Lock()
	cancelled := j.cancelled
	p.mu.Unlock()

	switch {
	case cancelled:
		err = ErrCancelled
	case err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && j.ctx.Err() == nil:
		err = &TimeoutError{Op: j.op, Timeout: p.cfg.OpTimeout}
		p.resetEngine("timeout")
	}

	p.metrics.RecordPipelineOperation(j.op, err == nil, time.Since(start))
	if err != nil {
		p.metrics.RecordPipelineError(j.op, errorType(err))
		p.logger.Warn("Pipeline operation failed", zap.String("operation", j.op), zap.Error(err))
	} else {
		p.emit(j.op, 100)
	}
	j.finish(err)
}

func (p *Pipeline) ensureLoaded(ctx context.Context) error {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if loaded {
		return nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, p.cfg.LoadTimeout)
	defer cancel()

	if err := p.engine.Load(loadCtx); err != nil {
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Op: "load", Timeout: p.cfg.LoadTimeout}
		}
		return fmt.Errorf("failed to load engine: %w", err)
	}

	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) resetEngine(reason string) {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()

	if err := p.engine.Reset(); err != nil {
		p.logger.Warn("Engine reset failed", zap.String("reason", reason), zap.Error(err))
	}
	p.metrics.RecordEngineReset(reason)
}

func (p *Pipeline) emit(phase string, percent int) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink(phase, percent)
	}
}

// cleanArtifacts removes leftovers of earlier jobs from the work dir.
func (p *Pipeline) cleanArtifacts() {
	dir := p.engine.WorkDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(name, "output") || strings.HasPrefix(name, "temp") || strings.HasSuffix(name, ".txt") {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				p.logger.Debug("Failed to remove stale artifact", zap.String("file", name), zap.Error(err))
			}
		}
	}
}

func errorType(err error) string {
	var timeout *TimeoutError
	var encode *EncodeError
	var probe *ProbeError
	switch {
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &encode):
		return "encode"
	case errors.As(err, &probe):
		return "probe"
	case errors.Is(err, context.Canceled):
		return "abandoned"
	default:
		return "other"
	}
}

// withInput resolves src to a local file for the duration of fn
func (p *Pipeline) withInput(ctx context.Context, src Media, fn func(input string) error) error {
	if src.IsZero() {
		return fmt.Errorf("no source media")
	}
	input, cleanup, err := p.storage.PrepareInputForProcessing(ctx, src.Path, p.engine.WorkDir())
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(input)
}

func (p *Pipeline) outputPath(op, ext string) string {
	return filepath.Join(p.engine.WorkDir(), fmt.Sprintf("output_%s_%s%s", op, uuid.New().String(), ext))
}

// publish moves a finished output into the working zone
func (p *Pipeline) publish(ctx context.Context, local string) (Media, error) {
	defer os.Remove(local)

	info, err := p.storage.StoreFile(ctx, storage.ZoneWorking, local)
	if err != nil {
		return Media{}, fmt.Errorf("failed to store output: %w", err)
	}
	return Media{Path: info.Path, ContentType: info.MimeType, Size: info.Size}, nil
}

// probeInput never fails: unreadable metadata falls back to declared values.
func (p *Pipeline) probeInput(ctx context.Context, input string, declared Declared) *MediaInfo {
	info, err := p.engine.Probe(ctx, input)
	if err != nil {
		p.logger.Warn("Probe failed, using declared values",
			zap.String("input", filepath.Base(input)),
			zap.Float64("duration", declared.Duration),
			zap.Error(err),
		)
		p.metrics.RecordPipelineError(OpProbe, "probe")
		return fallbackInfo(declared, p.cfg.DefaultBitrateKbps)
	}
	if info.Width <= 0 || info.Height <= 0 {
		info.Width, info.Height = declared.Width, declared.Height
	}
	if info.Duration <= 0 {
		info.Duration = declared.Duration
	}
	return info
}

// outputDuration reads the length of a finished file, falling back to the
// expected length, then the declared duration, then 60 seconds.
func (p *Pipeline) outputDuration(ctx context.Context, output string, expected, declared float64) float64 {
	if info, err := p.engine.Probe(ctx, output); err == nil && info.Duration > 0 {
		return info.Duration
	}
	switch {
	case expected > 0:
		return expected
	case declared > 0:
		return declared
	default:
		return 60
	}
}

// Trim cuts src to the window, re-encoding first and falling back to a
// stream copy. The result carries the new duration for re-baselining.
func (p *Pipeline) Trim(ctx context.Context, src Media, window edit.Trim, declared Declared) (*TrimResult, error) {
	var result *TrimResult

	err := p.submit(ctx, OpTrim, func(ctx context.Context, report func(int)) error {
		return p.withInput(ctx, src, func(input string) error {
			info := p.probeInput(ctx, input, declared)
			length := window.Duration()
			if length <= 0 {
				length = info.Duration
			}
			output := p.outputPath(OpTrim, ".mp4")
			kbps := bitrateKbps(info, p.cfg.DefaultBitrateKbps, p.cfg.MaxBitrateKbps)

			strategy := StrategyReencode
			if err := p.engine.Run(ctx, trimReencodeArgs(input, output, window.StartTime, length, kbps), length, report); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("Trim re-encode failed, retrying with stream copy", zap.Error(err))
				p.metrics.RecordPipelineError(OpTrim, "reencode")
				os.Remove(output)

				strategy = StrategyCopy
				if err := p.engine.Run(ctx, trimCopyArgs(input, output, window.StartTime, length), length, report); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return &EncodeError{Op: OpTrim, Strategy: StrategyCopy, Err: err}
				}
			}

			newDuration := p.outputDuration(ctx, output, length, declared.Duration)
			media, err := p.publish(ctx, output)
			if err != nil {
				return err
			}
			result = &TrimResult{Media: media, NewDuration: newDuration, Strategy: strategy}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Trim committed",
		zap.String("strategy", result.Strategy),
		zap.Float64("newDuration", result.NewDuration),
	)
	return result, nil
}

// filterJob runs a single h264 encode with the filters built from the probed input.
func (p *Pipeline) filterJob(ctx context.Context, op string, src Media, declared Declared, build func(info *MediaInfo) []string) (Media, error) {
	var result Media

	err := p.submit(ctx, op, func(ctx context.Context, report func(int)) error {
		return p.withInput(ctx, src, func(input string) error {
			info := p.probeInput(ctx, input, declared)
			filters := build(info)
			if len(filters) == 0 {
				result = src
				return nil
			}

			output := p.outputPath(op, ".mp4")
			if err := p.engine.Run(ctx, videoFilterArgs(input, output, filters, p.cfg.FastPresets), info.Duration, report); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &EncodeError{Op: op, Err: err}
			}

			media, err := p.publish(ctx, output)
			if err != nil {
				return err
			}
			result = media
			return nil
		})
	})
	if err != nil {
		return Media{}, err
	}
	return result, nil
}

// Crop encodes the crop region. A full-frame crop returns src unchanged.
func (p *Pipeline) Crop(ctx context.Context, src Media, crop geometry.Crop, declared Declared) (Media, error) {
	if err := crop.Validate(); err != nil {
		return Media{}, err
	}
	return p.filterJob(ctx, OpCrop, src, declared, func(info *MediaInfo) []string {
		if f := cropFilter(crop, info.Width, info.Height); f != "" {
			return []string{f}
		}
		return nil
	})
}

// Transform encodes rotation and flips
func (p *Pipeline) Transform(ctx context.Context, src Media, t edit.Transform, declared Declared) (Media, error) {
	if err := edit.ValidateTransform(t); err != nil {
		return Media{}, err
	}
	return p.filterJob(ctx, OpTransform, src, declared, func(*MediaInfo) []string {
		return transformFilters(t)
	})
}

// ApplyFilters encodes colour filters
func (p *Pipeline) ApplyFilters(ctx context.Context, src Media, filters edit.Filters, declared Declared) (Media, error) {
	return p.filterJob(ctx, OpFilters, src, declared, func(*MediaInfo) []string {
		return colorFilters(filters)
	})
}

// ChangeAspectRatio letterboxes src into the target ratio, keeping its area
func (p *Pipeline) ChangeAspectRatio(ctx context.Context, src Media, ratio geometry.AspectRatio, custom *geometry.CustomRatio, declared Declared) (Media, error) {
	if err := edit.ValidateAspectRatio(ratio, custom); err != nil {
		return Media{}, err
	}
	return p.filterJob(ctx, OpAspectRatio, src, declared, func(info *MediaInfo) []string {
		if ratio == geometry.AspectOriginal {
			return nil
		}
		target := geometry.TargetRatio(ratio, geometry.SourceRatio(info.Width, info.Height), custom)
		w, h := geometry.EncodeDimensions(info.Width, info.Height, target)
		if w <= 0 {
			return nil
		}
		return []string{aspectFilter(w, h)}
	})
}

// CommitAll encodes every family and the subtitles in one pass. Families
// that must not be re-applied should be neutralized by the caller.
func (p *Pipeline) CommitAll(ctx context.Context, src Media, params edit.Parameters, declared Declared, settings ExportSettings) (*CommitResult, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	var result *CommitResult

	err := p.submit(ctx, OpCommit, func(ctx context.Context, report func(int)) error {
		return p.withInput(ctx, src, func(input string) error {
			info := p.probeInput(ctx, input, declared)

			srtPath, err := writeSubtitles(p.engine.WorkDir(), params.Subtitles)
			if err != nil {
				return err
			}
			if srtPath != "" {
				defer os.Remove(srtPath)
			}

			expected := params.Trim.Duration()
			if expected <= 0 || expected > info.Duration {
				expected = info.Duration
			}
			output := p.outputPath(OpCommit, extensionFor(settings.Format))
			args := commitArgs(input, output, params, info.Width, info.Height, info.Duration, srtPath, settings)
			if err := p.engine.Run(ctx, args, expected, report); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &EncodeError{Op: OpCommit, Strategy: settings.Format, Err: err}
			}

			newDuration := p.outputDuration(ctx, output, expected, declared.Duration)
			media, err := p.publish(ctx, output)
			if err != nil {
				return err
			}
			result = &CommitResult{Media: media, NewDuration: newDuration}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GenerateThumbnail extracts one JPEG frame at t
func (p *Pipeline) GenerateThumbnail(ctx context.Context, src Media, t float64) (Media, error) {
	var result Media

	err := p.submit(ctx, OpThumbnail, func(ctx context.Context, report func(int)) error {
		return p.withInput(ctx, src, func(input string) error {
			output := p.outputPath(OpThumbnail, ".jpg")
			if err := p.engine.Run(ctx, thumbnailArgs(input, output, t), 0, report); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &EncodeError{Op: OpThumbnail, Err: err}
			}
			media, err := p.publish(ctx, output)
			if err != nil {
				return err
			}
			result = media
			return nil
		})
	})
	if err != nil {
		return Media{}, err
	}
	return result, nil
}
