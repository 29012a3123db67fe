package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/krshsl/intervue/backend/metrics"
	"github.com/krshsl/intervue/backend/repository"
	ws "github.com/krshsl/intervue/backend/websocket"
)

const jobTimeout = 5 * time.Minute

// Server holds all server dependencies
type Server struct {
	config *Config
	db     *gorm.DB
	repo   *repository.GORMRepository
	usage  *repository.UsageRepository

	machine   *SessionMachine
	log       *TranscriptLog
	pipeline  *FeedbackPipeline
	sweeper   *RetentionSweeper
	reaper    *SessionTimeoutService
	scheduler *Scheduler
	locker    *RedisLocker

	authService      *AuthService
	sessionEndpoints *SessionEndpoints
	websocketHandler *WebSocketHandler
	wsHub            *ws.Hub
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{config: config}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(db *gorm.DB) {
	s.db = db
	s.repo = repository.NewGORMRepository(db)
	s.usage = repository.NewUsageRepository(db)
}

// InitializeServices builds the session, transcript and feedback services on top of the database
func (s *Server) InitializeServices(ctx context.Context) error {
	if s.repo == nil {
		return errors.New("database not configured")
	}

	weights := s.config.Scoring.Weights
	policy := NewRetentionPolicy(s.config.Retention)

	analyzer, err := NewAnalyzer(ctx, s.config.Analysis, weights)
	if err != nil {
		return fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	opts := PipelineOptions{
		Weights:      weights,
		Policy:       policy,
		Timeout:      s.config.Analysis.Timeout,
		ClaimTTL:     s.config.Feedback.ClaimTTL,
		AutoEnhanced: s.config.Feedback.AutoEnhanced,
	}
	if s.config.Redis.Addr != "" {
		locker, err := NewRedisLocker(s.config.Redis)
		if err != nil {
			// Database claims still prevent duplicate feedback
			slog.Warn("Redis unavailable, using database claims only", "error", err)
		} else {
			s.locker = locker
			opts.Locker = locker
		}
	}

	var artifacts ArtifactStore
	if s.config.Storage.Endpoint != "" {
		store, err := NewMinioArtifactStore(s.config.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize artifact storage: %w", err)
		}
		artifacts = store
	}

	s.machine = NewSessionMachine(s.repo, s.usage, policy)
	s.log = NewTranscriptLog(s.repo, policy)
	s.pipeline = NewFeedbackPipeline(s.repo, s.usage, analyzer, opts)
	s.machine.OnComplete(s.pipeline.Enqueue)
	s.sweeper = NewRetentionSweeper(s.repo, artifacts, s.config.Retention.BatchSize)
	s.reaper = NewSessionTimeoutService(s.repo, s.machine, s.config.Session.IdleTimeout)

	s.wsHub = ws.NewHub()
	s.pipeline.SetNotifier(NewHubNotifier(s.wsHub))
	s.websocketHandler = NewWebSocketHandler(s.repo, s.wsHub, NewRealtimeEventProcessor(s.machine, s.log), s.config.WebSocket.AllowedOrigins)

	s.authService = NewAuthService(s.config.JWT.Secret)
	s.sessionEndpoints = NewSessionEndpoints(s.repo, s.usage, s.machine, s.log, s.pipeline)

	slog.Info("Services initialized", "analysis_backend", analyzer.Name(), "redis", s.locker != nil, "artifact_storage", artifacts != nil)
	return nil
}

func (s *Server) Machine() *SessionMachine { return s.machine }
func (s *Server) TranscriptLog() *TranscriptLog { return s.log }
func (s *Server) Pipeline() *FeedbackPipeline { return s.pipeline }
func (s *Server) Sweeper() *RetentionSweeper { return s.sweeper }
func (s *Server) Reaper() *SessionTimeoutService { return s.reaper }
func (s *Server) Auth() *AuthService { return s.authService }

// Seed creates the demo user and interview
func (s *Server) Seed(ctx context.Context) error {
	return NewDatabaseSeeder(s.repo, s.machine, s.log).SeedDatabase(ctx)
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			r.Method(http.MethodGet, "/ws", s.websocketHandler)
			s.sessionEndpoints.RegisterRoutes(r)
		})
	})

	return r
}

// scheduleJobs registers the maintenance jobs
func (s *Server) scheduleJobs() error {
	s.scheduler = NewScheduler(s.config.Schedule.Timezone)

	if err := s.scheduler.Add("retention", s.config.Schedule.Retention, jobTimeout, func(ctx context.Context) error {
		_, err := s.sweeper.Sweep(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := s.scheduler.Add("idle_reaper", s.config.Schedule.Reaper, jobTimeout, func(ctx context.Context) error {
		_, err := s.reaper.CheckTimeouts(ctx)
		return err
	}); err != nil {
		return err
	}
	return s.scheduler.Add("rescore", s.config.Schedule.Rescore, jobTimeout, func(ctx context.Context) error {
		_, err := s.pipeline.Rescore(ctx, reaperBatchSize)
		return err
	})
}

// Start runs the HTTP server and background jobs until SIGINT or SIGTERM
func (s *Server) Start() error {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	metrics.Init()
	if err := s.scheduleJobs(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.wsHub.Run(ctx)
	s.scheduler.Start()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		slog.Error("Server error", "error", serveErr)
	}

	slog.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	cancel()
	s.scheduler.Stop()
	s.pipeline.Wait()
	s.Close()

	slog.Info("Server exited")
	return serveErr
}

// Close releases external clients
func (s *Server) Close() {
	if s.locker != nil {
		if err := s.locker.Close(); err != nil {
			slog.Warn("Failed to close redis client", "error", err)
		}
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if err := sqlDB.PingContext(r.Context()); err != nil {
				dbStatus = "down"
				status = "degraded"
			} else {
				dbStatus = "up"
			}
		} else {
			dbStatus = "down"
			status = "degraded"
		}
	}

	clients := 0
	if s.wsHub != nil {
		clients = s.wsHub.ClientCount()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            status,
		"database":          dbStatus,
		"websocket_clients": clients,
	})
	slog.Debug("Health check", "status", status, "database", dbStatus)
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API v1", "version": "1.0.0"})
}
