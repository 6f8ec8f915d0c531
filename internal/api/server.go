package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/config"
)

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		config:     cfg,
		shutdownCh: make(chan struct{}),
	}
	s.handlers = NewHandlers(deps)
	s.handlers.onShutdown = s.requestShutdown
	s.handler = SetupRoutes(s.handlers, deps)
	return s
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		// Send streams last as long as the job; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ShutdownRequested is closed once POST /shutdown was accepted
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
