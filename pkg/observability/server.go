package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server exposes health and metrics endpoints for a coordinator or agent
// process.
type Server struct {
	httpServer *http.Server
	port       int
}

// NewServer creates a new observability server listening on port.
func NewServer(port int) *Server {
	s := &Server{port: port}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the mux serving the observability endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler())

	// Metrics endpoint
	mux.Handle("/metrics", MetricsHandler())
	return mux
}

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	InitMetrics()
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
