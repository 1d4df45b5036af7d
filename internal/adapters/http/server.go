package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/anyhui/aleeai-prompt/internal/adapters/http/handlers"
	"github.com/anyhui/aleeai-prompt/internal/adapters/http/middleware"
	"github.com/anyhui/aleeai-prompt/internal/config"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

// Dependencies are the services the HTTP API exposes.
type Dependencies struct {
	Runs         handlers.RunManager
	Publisher    ports.ProgressPublisher
	Broadcaster  *handlers.WebSocketBroadcaster
	Versions     handlers.VersionStore
	Checker      ports.ConnectionChecker
	RemoteConfig func() models.RemoteCallConfig
	Version      string
}

type Server struct {
	config     config.ServerConfig
	deps       Dependencies
	router     *chi.Mux
	httpServer *http.Server
}

func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	if deps.Broadcaster == nil {
		deps.Broadcaster = handlers.NewWebSocketBroadcaster()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // No write timeout for SSE and WebSocket streaming
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.config.CORSOrigins))
	r.Use(middleware.Metrics)

	r.Get("/health", handlers.NewHealthHandler(s.deps.Version).Handle)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/presets", handlers.Presets)

		if s.deps.Checker != nil {
			connectionHandler := handlers.NewConnectionHandler(s.deps.Checker, s.deps.RemoteConfig)
			r.Post("/connection/check", connectionHandler.Check)
		}

		if s.deps.Runs != nil {
			optimizationHandler := handlers.NewOptimizationHandler(
				s.deps.Runs,
				s.deps.Publisher,
				s.deps.Broadcaster,
				s.config.CORSOrigins,
			)
			r.Post("/optimizations", optimizationHandler.Create)
			r.Get("/optimizations/{id}", optimizationHandler.Get)
			r.Delete("/optimizations/{id}", optimizationHandler.Cancel)
			r.Get("/optimizations/{id}/stream", optimizationHandler.Stream)
			r.Get("/optimizations/{id}/ws", optimizationHandler.WebSocket)
		}

		if s.deps.Versions != nil {
			versionsHandler := handlers.NewVersionsHandler(s.deps.Versions)
			r.Get("/prompts", versionsHandler.ListPrompts)
			r.Route("/prompts/{promptID}", func(r chi.Router) {
				r.Get("/versions", versionsHandler.List)
				r.Post("/versions", versionsHandler.Save)
				r.Get("/versions/{versionID}", versionsHandler.Get)
				r.Delete("/versions/{versionID}", versionsHandler.Delete)
				r.Get("/diff", versionsHandler.Diff)
			})
		}
	})

	s.router = r
}

// Start listens until Stop is called. It returns nil after a graceful stop.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
