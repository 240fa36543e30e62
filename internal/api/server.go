// Package api serves the optional HTTP status surface: which pods are
// loaded, what they expose, and a way to unload them.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Host is the view of the pod runtime the API needs.
type Host interface {
	Pods() []PodInfo
	Modules() []ModuleInfo
	Deferred(podID string) []string
	Unload(podID string) error
}

// PodInfo describes one loaded pod.
type PodInfo struct {
	ID         string   `json:"id"`
	Format     string   `json:"format"`
	Namespaces []string `json:"namespaces"`
}

// ModuleInfo describes one exposed namespace.
type ModuleInfo struct {
	Namespace string `json:"namespace"`
	PodID     string `json:"pod_id"`
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the bearer token; empty disables the protected routes.
	APIKey string
}

// Server is the HTTP status server.
type Server struct {
	config    Config
	host      Host
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new status server.
func New(config Config, host Host, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		host:      host,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("status API starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/v1/pods", s.handleListPods)
		r.Get("/v1/pods/{podID}", s.handleGetPod)
		r.Post("/v1/pods/{podID}/unload", s.handleUnloadPod)
		r.Get("/v1/namespaces", s.handleListNamespaces)
		r.Get("/v1/deferred", s.handleListDeferred)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
