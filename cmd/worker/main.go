package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/jobs"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/shared/config"
	"github.com/nextconvert/editor/internal/shared/database"
	"github.com/nextconvert/editor/internal/shared/logging"
	"github.com/nextconvert/editor/internal/shared/metrics"
	"github.com/nextconvert/editor/internal/shared/storage"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting video editor export worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx := context.Background()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	jobStore := jobs.NewPostgresStore(db.Pool)
	if err := jobStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare export job table", zap.Error(err))
	}

	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	// One worker-local pipeline; its queue serializes exports on this node
	engine := media.NewProcessor(media.ProcessorConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		WorkDir:     filepath.Join(cfg.FFmpegWorkDir, "worker"),
		MaxThreads:  cfg.FFmpegMaxThreads,
	}, logger)
	pipeline := media.NewPipeline(engine, storageService, media.PipelineConfig{
		OpTimeout:          cfg.Editor.OpTimeout,
		LoadTimeout:        cfg.Editor.EngineLoadTimeout,
		DefaultBitrateKbps: cfg.Editor.DefaultBitrateKbps,
		MaxBitrateKbps:     cfg.Editor.MaxBitrateKbps,
		FastPresets:        false,
	}, m, logger)
	defer pipeline.Close()

	handler := jobs.NewHandler(jobs.HandlerConfig{
		Store:    jobStore,
		Storage:  storageService,
		Pipeline: pipeline,
		Metrics:  m,
		Logger:   logger,
	})

	redisOpt, err := jobs.RedisConnOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid Redis configuration", zap.Error(err))
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				jobs.QueueCritical: 6,
				jobs.QueueDefault:  3,
				jobs.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	handler.Register(mux)

	scheduler, err := jobs.ScheduleCleanup(cfg.RedisURL, jobs.DefaultCleanupSchedules(), logger)
	if err != nil {
		logger.Fatal("Failed to register cleanup schedules", zap.Error(err))
	}

	var metricsServer *http.Server
	if cfg.WorkerMetricsPort > 0 {
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics listener failed", zap.Error(err))
			}
		}()
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal("Worker failed", zap.Error(err))
	}
	logger.Info("Worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	scheduler.Shutdown()
	srv.Shutdown()
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(ctx)
	}
	logger.Info("Worker stopped")
}
