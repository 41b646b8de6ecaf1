// Package server exposes the scanner's status HTTP surface: health,
// scheduler state, recent alerts and scans, and a manual scan trigger.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"ivscan/internal/breaker"
	"ivscan/internal/cache"
	"ivscan/internal/config"
	"ivscan/internal/scheduler"
	"ivscan/internal/storage"
)

// Server is the status HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	cfg      *config.Config
	db       *storage.DB
	cache    *cache.Cache
	breakers *breaker.Registry
	sched    *scheduler.Engine
	alerts   *storage.AlertRepo
	scans    *storage.ScanRepo

	startedAt time.Time
}

// Deps carries the server's collaborators.
type Deps struct {
	DB       *storage.DB
	Cache    *cache.Cache
	Breakers *breaker.Registry
	Sched    *scheduler.Engine
	Alerts   *storage.AlertRepo
	Scans    *storage.ScanRepo
}

func New(cfg *config.Config, d Deps, log zerolog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		db:        d.DB,
		cache:     d.Cache,
		breakers:  d.Breakers,
		sched:     d.Sched,
		alerts:    d.Alerts,
		scans:     d.Scans,
		startedAt: time.Now().UTC(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/scans", s.handleScans)
		r.Post("/scan/trigger", s.handleTriggerScan)
	})
}

// Start begins serving on the configured port. Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("status server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
