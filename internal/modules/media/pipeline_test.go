package media_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/modules/geometry"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/modules/media/mediatest"
	"github.com/nextconvert/editor/internal/shared/config"
	"github.com/nextconvert/editor/internal/shared/storage"
)

type fixture struct {
	engine   *mediatest.Engine
	pipeline *media.Pipeline
	source   media.Media
	declared media.Declared
}

func newFixture(t *testing.T, cfg media.PipelineConfig) *fixture {
	t.Helper()
	root := t.TempDir()

	store, err := storage.NewService(config.StorageConfig{Backend: "local", BasePath: filepath.Join(root, "storage")})
	require.NoError(t, err)

	src := filepath.Join(root, "source.mp4")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0644))

	engine := mediatest.NewEngine(filepath.Join(root, "work"))
	p := media.NewPipeline(engine, store, cfg, nil, zap.NewNop())
	t.Cleanup(func() { p.Close() })

	return &fixture{
		engine:   engine,
		pipeline: p,
		source:   media.Media{Path: src, ContentType: "video/mp4"},
		declared: media.Declared{Duration: 120, Width: 1920, Height: 1080},
	}
}

func TestPipelineTrim(t *testing.T) {
	t.Run("re-encodes and reports the new duration", func(t *testing.T) {
		f := newFixture(t, media.PipelineConfig{})

		res, err := f.pipeline.Trim(context.Background(), f.source, edit.Trim{StartTime: 10, EndTime: 100}, f.declared)
		require.NoError(t, err)

		assert.Equal(t, media.StrategyReencode, res.Strategy)
		assert.Equal(t, 90.0, res.NewDuration)
		assert.FileExists(t, res.Media.Path)
		assert.Equal(t, "video/mp4", res.Media.ContentType)

		calls := f.engine.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "5000k", mediatest.ArgAfter(calls[0], "-b:v"))
		assert.Equal(t, "10.000", mediatest.ArgAfter(calls[0], "-ss"))
	})

	t.Run("falls back to stream copy", func(t *testing.T) {
		f := newFixture(t, media.PipelineConfig{})
		f.engine.FailFunc = mediatest.FailWhen("libx264")

		res, err := f.pipeline.Trim(context.Background(), f.source, edit.Trim{StartTime: 0, EndTime: 30}, f.declared)
		require.NoError(t, err)

		assert.Equal(t, media.StrategyCopy, res.Strategy)
		assert.Equal(t, 2, f.engine.CallCount())
	})

	t.Run("fails when every strategy fails", func(t *testing.T) {
		f := newFixture(t, media.PipelineConfig{})
		f.engine.FailFunc = func([]string) error { return errors.New("broken") }

		_, err := f.pipeline.Trim(context.Background(), f.source, edit.Trim{StartTime: 0, EndTime: 30}, f.declared)
		var encodeErr *media.EncodeError
		require.ErrorAs(t, err, &encodeErr)
		assert.Equal(t, media.StrategyCopy, encodeErr.Strategy)
	})

	t.Run("unreadable metadata uses the default bitrate", func(t *testing.T) {
		f := newFixture(t, media.PipelineConfig{})
		f.engine.Info = nil

		res, err := f.pipeline.Trim(context.Background(), f.source, edit.Trim{StartTime: 5, EndTime: 25}, f.declared)
		require.NoError(t, err)
		assert.Equal(t, 20.0, res.NewDuration)
		assert.Equal(t, "2000k", mediatest.ArgAfter(f.engine.Calls()[0], "-b:v"))
	})
}

func TestPipelineSerializes(t *testing.T) {
	f := newFixture(t, media.PipelineConfig{})
	f.engine.Gate = make(chan struct{})
	f.engine.Started = make(chan []string, 4)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.pipeline.Trim(context.Background(), f.source, edit.Trim{StartTime: 10, EndTime: 100}, f.declared)
		assert.NoError(t, err)
	}()

	first := <-f.engine.Started
	assert.Contains(t, first, "-ss")

	go func() {
		defer wg.Done()
		_, err := f.pipeline.Crop(context.Background(), f.source, geometry.Crop{X: 0, Y: 0, Width: 50, Height: 50}, f.declared)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return f.pipeline.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	f.engine.Gate <- struct{}{}
	second := <-f.engine.Started
	assert.Equal(t, "crop=960:540:0:0", mediatest.ArgAfter(second, "-vf"))
	f.engine.Gate <- struct{}{}

	wg.Wait()
	assert.Equal(t, 1, f.engine.MaxConcurrent())
}

func TestPipelineTimeoutResetsEngine(t *testing.T) {
	f := newFixture(t, media.PipelineConfig{OpTimeout: 50 * time.Millisecond})
	f.engine.Gate = make(chan struct{})

	_, err := f.pipeline.Transform(context.Background(), f.source, edit.Transform{Rotate: 90}, f.declared)
	var timeoutErr *media.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, media.OpTransform, timeoutErr.Op)
	assert.Equal(t, 1, f.engine.Resets())

	f.engine.Gate = nil
	_, err = f.pipeline.Transform(context.Background(), f.source, edit.Transform{Rotate: 90}, f.declared)
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.Loads())
}

func TestPipelineCancel(t *testing.T) {
	f := newFixture(t, media.PipelineConfig{})
	f.engine.Gate = make(chan struct{})
	f.engine.Started = make(chan []string, 4)

	errs := make(chan error, 2)
	go func() {
		_, err := f.pipeline.ApplyFilters(context.Background(), f.source, edit.Filters{edit.FilterSepia: 50}, f.declared)
		errs <- err
	}()
	<-f.engine.Started

	go func() {
		_, err := f.pipeline.GenerateThumbnail(context.Background(), f.source, 3)
		errs <- err
	}()
	require.Eventually(t, func() bool { return f.pipeline.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	f.pipeline.Cancel()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errs, media.ErrCancelled)
	}
	assert.Equal(t, 1, f.engine.Resets())

	f.engine.Gate = nil
	f.engine.Started = nil
	_, err := f.pipeline.GenerateThumbnail(context.Background(), f.source, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.Loads())
}

func TestPipelineCleansStaleArtifacts(t *testing.T) {
	f := newFixture(t, media.PipelineConfig{})
	require.NoError(t, f.pipeline.Load(context.Background()))

	stale := []string{"output_old.mp4", "temp_input_1.mp4", "list.txt"}
	for _, name := range stale {
		require.NoError(t, os.WriteFile(filepath.Join(f.engine.WorkDir(), name), nil, 0644))
	}
	keep := filepath.Join(f.engine.WorkDir(), "keep.bin")
	require.NoError(t, os.WriteFile(keep, nil, 0644))

	_, err := f.pipeline.GenerateThumbnail(context.Background(), f.source, 1)
	require.NoError(t, err)

	for _, name := range stale {
		assert.NoFileExists(t, filepath.Join(f.engine.WorkDir(), name))
	}
	assert.FileExists(t, keep)
}

func TestPipelineCommitAll(t *testing.T) {
	f := newFixture(t, media.PipelineConfig{})

	params := edit.DefaultParameters(120)
	params.Filters[edit.FilterContrast] = 120
	params.Subtitles = []edit.Subtitle{{ID: "s1", StartTime: 1, EndTime: 2, Text: "<i>hello</i>"}}

	var phases []string
	var mu sync.Mutex
	f.pipeline.SetProgressSink(func(phase string, pct int) {
		mu.Lock()
		phases = append(phases, phase)
		mu.Unlock()
	})

	res, err := f.pipeline.CommitAll(context.Background(), f.source, params, f.declared, media.ExportSettings{Format: media.FormatWebM, Quality: media.QualityMedium})
	require.NoError(t, err)
	assert.Equal(t, 120.0, res.NewDuration)
	assert.Equal(t, "video/webm", res.Media.ContentType)

	args := f.engine.Calls()[0]
	assert.Contains(t, mediatest.ArgAfter(args, "-vf"), "eq=contrast=1.20,subtitles=")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, phases, media.OpCommit)
}

func TestPipelineAbandonedJob(t *testing.T) {
	f := newFixture(t, media.PipelineConfig{})
	f.engine.Gate = make(chan struct{})
	f.engine.Started = make(chan []string, 4)

	go f.pipeline.GenerateThumbnail(context.Background(), f.source, 1)
	<-f.engine.Started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.GenerateThumbnail(ctx, f.source, 2)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.pipeline.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, f.pipeline.QueueDepth())

	f.engine.Gate <- struct{}{}
}

func TestPipelineClosed(t *testing.T) {
	f := newFixture(t, media.PipelineConfig{})
	require.NoError(t, f.pipeline.Close())

	_, err := f.pipeline.GenerateThumbnail(context.Background(), f.source, 1)
	assert.ErrorIs(t, err, media.ErrPipelineClosed)
}
