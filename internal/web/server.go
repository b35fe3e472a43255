// Package web serves the engine over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/metrics"
	"github.com/kozaktomas/face-retrieval/internal/web/handlers"
	"github.com/kozaktomas/face-retrieval/internal/web/middleware"
)

// Options configures the web server.
type Options struct {
	Host           string
	Port           int
	AllowedOrigins string
	// RequestTimeout bounds a single request, training included.
	RequestTimeout time.Duration
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	dispatcher handlers.Dispatcher
	sessions   handlers.SessionCounter
	log        *zap.Logger
}

// NewServer creates a new web server
func NewServer(opts Options, dispatcher handlers.Dispatcher, sessions handlers.SessionCounter, log *zap.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:     r,
		dispatcher: dispatcher,
		sessions:   sessions,
		log:        log,
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r.Use(middleware.JSONRecoverer(log))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(metrics.Middleware())
	r.Use(chiMiddleware.Timeout(timeout))
	r.Use(middleware.CORS(middleware.ParseOrigins(opts.AllowedOrigins)))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
