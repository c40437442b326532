// Package web provides the HTTP API for competency imports.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/competency-import/internal/competency"
	"github.com/JonMunkholm/competency-import/internal/config"
	"github.com/JonMunkholm/competency-import/internal/core"
	"github.com/JonMunkholm/competency-import/internal/database"
	"github.com/JonMunkholm/competency-import/internal/web/middleware"
)

// ImportService is the part of core.Service the handlers use.
type ImportService interface {
	Preview(ctx context.Context, in core.Input) (*core.Preview, error)
	Catalog(ctx context.Context) ([]competency.Definition, error)
	StartImport(ctx context.Context, in core.Input) (string, error)
	Subscribe(id string) (<-chan core.Progress, error)
	Progress(id string) (core.Progress, error)
	Cancel(id string) error
	Finished(id string) (core.ImportResult, bool, error)
	LimiterStatus() core.LimiterStatus
}

// ProgressLookup reads progress mirrored by another instance.
type ProgressLookup interface {
	Get(ctx context.Context, runID string) (core.Progress, bool, error)
}

// Resetter removes imported data.
type Resetter interface {
	Reset(ctx context.Context, people bool) (database.ResetCounts, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Server. Only Service is required.
type Deps struct {
	Service  ImportService
	Mirror   ProgressLookup
	Resetter Resetter
	DB       Pinger
}

// Server is the HTTP server for the import API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server with routes and middleware configured.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		// Progress streams stay open for the whole run.
		r.Get("/imports/{runID}/progress", s.handleProgress)

		r.Group(func(r chi.Router) {
			if d := s.cfg.Server.RequestTimeout; d > 0 {
				r.Use(chimw.Timeout(d))
			}

			r.Get("/competencies", s.handleCompetencies)

			r.Post("/preview", s.handlePreview)

			r.Post("/imports", s.handleStartImport)
			r.Get("/imports/{runID}", s.handleResult)
			r.Post("/imports/{runID}/cancel", s.handleCancel)
			r.Get("/imports/{runID}/errors.xlsx", s.handleErrorReport)

			r.Post("/admin/reset", s.handleReset)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
