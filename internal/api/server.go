package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/api/handlers"
	"github.com/nextconvert/editor/internal/api/middleware"
	"github.com/nextconvert/editor/internal/api/websocket"
	"github.com/nextconvert/editor/internal/modules/jobs"
	"github.com/nextconvert/editor/internal/modules/session"
	"github.com/nextconvert/editor/internal/shared/config"
	"github.com/nextconvert/editor/internal/shared/database"
	"github.com/nextconvert/editor/internal/shared/metrics"
	"github.com/nextconvert/editor/internal/shared/storage"
)

const maxJSONBody = 1 << 20

// ServerConfig holds dependencies for the API server. DB, Redis and
// Exports are optional.
type ServerConfig struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *database.Postgres
	Redis    *database.Redis
	Storage  *storage.Service
	WSHub    *websocket.Hub
	Sessions *session.Manager
	Exports  *jobs.Module
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server represents the API server
type Server struct {
	config   *config.Config
	logger   *zap.Logger
	db       *database.Postgres
	redis    *database.Redis
	storage  *storage.Service
	wsHub    *websocket.Hub
	sessions *session.Manager
	exports  *jobs.Module
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		config:   cfg.Config,
		logger:   cfg.Logger,
		db:       cfg.DB,
		redis:    cfg.Redis,
		storage:  cfg.Storage,
		wsHub:    cfg.WSHub,
		sessions: cfg.Sessions,
		exports:  cfg.Exports,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
	}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	if s.metrics != nil {
		r.Use(middleware.Metrics(s.metrics))
	}
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Range"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Length", "Content-Range", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var redisClient *redis.Client
	if s.redis != nil {
		redisClient = s.redis.Client
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, s.logger)
	r.Use(rateLimiter.Limit(middleware.GlobalRateLimit))

	checks := map[string]handlers.HealthChecker{}
	if s.db != nil {
		checks["postgres"] = s.db
	}
	if s.redis != nil {
		checks["redis"] = s.redis
	}
	healthHandler := handlers.NewHealthHandler(checks, s.sessions.Count)
	sessionHandler := handlers.NewSessionHandler(s.sessions, s.exports, s.logger)
	fileHandler := handlers.NewFileHandler(s.storage, s.logger)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Upgraded connections must not pass through the compressor
	r.Get("/ws", s.wsHub.HandleConnection)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Compress(5, "application/json"))
		r.Use(middleware.NoCache)

		r.With(
			rateLimiter.Limit(middleware.UploadRateLimit),
			middleware.ValidateFileUpload(middleware.VideoFileValidation),
		).Post("/files", fileHandler.Upload)

		if s.exports != nil {
			exportHandler := handlers.NewExportHandler(s.exports, s.storage, s.logger)
			r.Get("/exports/{id}", exportHandler.Get)
			r.Get("/exports/{id}/download", exportHandler.Download)
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Use(middleware.LimitJSONBody(maxJSONBody))

			r.With(rateLimiter.Limit(middleware.SessionCreateRateLimit)).Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)

				// Pending edits
				r.Put("/crop", sessionHandler.SetCrop)
				r.Put("/trim", sessionHandler.SetTrim)
				r.Put("/transform", sessionHandler.SetTransform)
				r.Put("/filters", sessionHandler.SetFilters)
				r.Put("/aspect-ratio", sessionHandler.SetAspectRatio)
				r.Put("/export-settings", sessionHandler.SetExportSettings)
				r.Put("/preview", sessionHandler.SetPreview)
				r.Post("/reset", sessionHandler.Reset)

				// Encodes
				r.Group(func(r chi.Router) {
					r.Use(rateLimiter.Limit(middleware.EncodeRateLimit))
					r.Post("/apply/{family}", sessionHandler.Apply)
					r.Post("/apply-all", sessionHandler.ApplyAll)
					r.Post("/save", sessionHandler.Save)
					r.Post("/frame", sessionHandler.CaptureFrame)
				})
				r.With(
					rateLimiter.Limit(middleware.EncodeRateLimit),
					rateLimiter.Limit(middleware.ExportRateLimit),
				).Post("/export", sessionHandler.Export)
				r.Get("/jobs/{family}", sessionHandler.JobStatus)
				r.Post("/discard", sessionHandler.Discard)
				r.Post("/cancel", sessionHandler.Cancel)

				r.Post("/undo", sessionHandler.Undo)
				r.Post("/redo", sessionHandler.Redo)
				r.Get("/history", sessionHandler.History)

				r.Get("/recovery", sessionHandler.GetRecovery)
				r.Post("/recovery", sessionHandler.AcceptRecovery)
				r.Delete("/recovery", sessionHandler.DeclineRecovery)
				r.Post("/autosave", sessionHandler.AutoSave)

				r.Route("/subtitles", func(r chi.Router) {
					r.Get("/", sessionHandler.ListSubtitles)
					r.Post("/", sessionHandler.AddSubtitle)
					r.Post("/toggle", sessionHandler.ToggleSubtitles)
					r.Put("/{subtitleId}", sessionHandler.UpdateSubtitle)
					r.Delete("/{subtitleId}", sessionHandler.DeleteSubtitle)
					r.Post("/{subtitleId}/activate", sessionHandler.ActivateSubtitle)
				})

				r.Post("/seek", sessionHandler.Seek)
				r.Post("/play", sessionHandler.Play)
				r.Post("/pause", sessionHandler.Pause)
				r.Put("/playback", sessionHandler.SetPlayback)
				r.Get("/timeline", sessionHandler.Timeline)
				r.Put("/timeline", sessionHandler.SetTimeline)
			})
		})
	})

	return r
}
