// Package web serves the read-only operator dashboard: a small JSON
// API over the sqlite index internal/db builds from the worker's
// persisted run-snapshot and rusage rings, plus a static-file
// fallback, grounded on the teacher's internal/web.Server
// (http.Server lifecycle, Bearer-token requireAuth middleware) but
// re-pointed at sitterd's own read-only run/rusage schema instead of
// the teacher's watcher-push/probe-config surface.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sitterd/sitterd/internal/db"
)

// Config holds the dashboard's own tunables, kept separate from the
// daemon's config.Provider since the dashboard is a short-lived
// read-only process with no hot-reload requirement.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the dashboard's HTTP backend.
type Server struct {
	db     *db.DB
	config Config
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a dashboard server reading through database.
func NewServer(database *db.DB, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{db: database, config: cfg, log: log}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.routes(),
	}
	return s
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /api/runs", s.requireAuth(http.HandlerFunc(s.handleListRuns)))
	mux.Handle("GET /api/runs/{id}", s.requireAuth(http.HandlerFunc(s.handleGetRun)))
	mux.Handle("GET /api/rusage/{process}", s.requireAuth(http.HandlerFunc(s.handleListRusage)))
	mux.Handle("GET /api/rusage/{process}/{hour}", s.requireAuth(http.HandlerFunc(s.handleGetRusage)))

	mux.Handle("/", staticHandler())
	return mux
}
