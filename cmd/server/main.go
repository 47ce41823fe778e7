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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/api"
	"github.com/nextconvert/editor/internal/api/websocket"
	"github.com/nextconvert/editor/internal/modules/autosave"
	"github.com/nextconvert/editor/internal/modules/jobs"
	"github.com/nextconvert/editor/internal/modules/media"
	"github.com/nextconvert/editor/internal/modules/session"
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

	logger.Info("Starting video editor API server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	// Redis backs rate limiting, redis auto-saves and the export queue. It
	// is optional for single-node deployments.
	var redisClient *database.Redis
	if cfg.Editor.AutoSaveBackend == "redis" || cfg.ExportOffload {
		redisClient, err = database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var db *database.Postgres
	if cfg.Editor.AutoSaveBackend == "postgres" || cfg.ExportOffload {
		db, err = database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
	}

	autosaves, closeAutosaves, err := newAutoSaveStore(ctx, cfg, redisClient, db, logger)
	if err != nil {
		logger.Fatal("Failed to initialize auto-save store", zap.Error(err))
	}
	defer closeAutosaves()

	wsHub := websocket.NewHub(cfg.AllowedOrigins, m, logger)
	go wsHub.Run(ctx)

	newEngine := func(sessionID string) (media.Engine, error) {
		return media.NewProcessor(media.ProcessorConfig{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			WorkDir:     filepath.Join(cfg.FFmpegWorkDir, sessionID),
			MaxThreads:  cfg.FFmpegMaxThreads,
		}, logger.With(zap.String("session_id", sessionID))), nil
	}

	manager := session.NewManager(session.ManagerConfig{
		Pipeline:           pipelineConfig(cfg),
		AutoSaveInterval:   cfg.Editor.AutoSaveInterval,
		AutoSaveMinSpacing: cfg.Editor.AutoSaveMinSpacing,
		AutoSaveStaleAfter: cfg.Editor.AutoSaveStaleAfter,
		IdleTimeout:        cfg.Editor.SessionIdleTimeout,
	}, storageService, autosaves, newEngine, wsHub.Collaborators, m, logger)
	manager.SetObserver(wsHub.ForwardEvent)
	go manager.RunReaper(ctx)

	var exports *jobs.Module
	if cfg.ExportOffload {
		jobStore := jobs.NewPostgresStore(db.Pool)
		if err := jobStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare export job table", zap.Error(err))
		}
		queue, err := jobs.NewQueueClient(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("Failed to create export queue client", zap.Error(err))
		}
		defer queue.Close()
		exports = jobs.NewModule(jobStore, queue, m, logger)
	}

	server := api.NewServer(api.ServerConfig{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    redisClient,
		Storage:  storageService,
		WSHub:    wsHub,
		Sessions: manager,
		Exports:  exports,
		Metrics:  m,
		Gatherer: reg,
	})

	// Encodes run inside requests, so the write timeout covers a full export
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Dirty sessions write a final recovery record on close
	manager.CloseAll()

	logger.Info("Server stopped")
}

func pipelineConfig(cfg *config.Config) media.PipelineConfig {
	return media.PipelineConfig{
		OpTimeout:          cfg.Editor.OpTimeout,
		LoadTimeout:        cfg.Editor.EngineLoadTimeout,
		DefaultBitrateKbps: cfg.Editor.DefaultBitrateKbps,
		MaxBitrateKbps:     cfg.Editor.MaxBitrateKbps,
		FastPresets:        cfg.FFmpegFastPresets,
	}
}

func newAutoSaveStore(ctx context.Context, cfg *config.Config, redisClient *database.Redis, db *database.Postgres, logger *zap.Logger) (autosave.Store, func(), error) {
	noop := func() {}

	switch cfg.Editor.AutoSaveBackend {
	case "redis":
		return autosave.NewRedisStore(redisClient.Client, cfg.Editor.AutoSaveStaleAfter), noop, nil
	case "postgres":
		store := autosave.NewPostgresStore(db.Pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "sqlite":
		sqlite, err := database.NewSQLite(cfg.Editor.AutoSaveSQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return autosave.NewSQLiteStore(sqlite.DB), func() { sqlite.Close() }, nil
	case "memory":
		logger.Warn("Auto-save records will not survive a restart")
		return autosave.NewMemoryStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown auto-save backend %q", cfg.Editor.AutoSaveBackend)
	}
}
