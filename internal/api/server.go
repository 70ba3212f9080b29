// Package api wires the gateway's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/backup-gateway/internal/api/handler"
	mw "github.com/Chapsvision-dev/backup-gateway/internal/api/middleware"
	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
	"github.com/Chapsvision-dev/backup-gateway/internal/version"
)

type Server struct {
	router  chi.Router
	logger  zerolog.Logger
	store   store.Store
	authn   *auth.Authenticator
	orch    *backup.Orchestrator
	catalog *backup.Catalog
}

func NewServer(logger zerolog.Logger, st store.Store, authn *auth.Authenticator, orch *backup.Orchestrator) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		logger:  logger,
		store:   st,
		authn:   authn,
		orch:    orch,
		catalog: backup.NewCatalog(st),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/version", s.handleVersion)

	s.router.Route("/api", func(r chi.Router) {
		origin := handler.NewOrigin(s.catalog, s.orch, s.authn)
		r.Get("/origin/available", origin.Available)
		r.Post("/origin/register", origin.Register)
		r.Get("/origin/{id}/destinations", origin.Destinations)
		r.Get("/origin/{id}/backups", origin.Backups)

		bk := handler.NewBackup(s.orch, s.authn)
		r.Post("/origin/{id}/backup", bk.Create)
		r.Get("/origin/{id}/restore", bk.Restore)

		dest := handler.NewDestination(s.catalog, s.authn)
		r.Get("/destinations", dest.List)
		r.Post("/destinations", dest.Create)
		r.Get("/destinations/{name}", dest.Get)
		r.Patch("/destinations/{name}", dest.Update)
		r.Delete("/destinations/{name}", dest.Delete)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"checks": checks})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version":    version.Version,
		"commit":     version.Commit,
		"build_date": version.BuildDate,
		"info":       version.Info(),
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer wraps s with the listener timeouts used in production. Write
// timeouts are left unset so large transfers are not cut.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
