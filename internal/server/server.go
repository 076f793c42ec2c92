// Package server provides the operational HTTP listener for the Quell
// correlation engine.
//
// The listener exposes health, Prometheus metrics and engine statistics
// endpoints. The alert intake and incident workflow surfaces live in
// upstream services; this server exists for operators and scrapers only.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quellhq/quell/internal/config"
	"github.com/quellhq/quell/internal/correlation"
	"github.com/quellhq/quell/internal/logging"
)

// Version information for the server, set at build time via -ldflags.
var (
	Version = "dev"
)

// Server is the operational HTTP listener.
type Server struct {
	config     *config.Config
	logger     *logging.Logger
	engine     *correlation.Engine
	httpServer *http.Server
	startTime  time.Time
}

// HealthResponse is the payload of the health check endpoint.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	ActiveGroups int    `json:"active_groups"`
}

// New creates a server instance bound to the given engine. The server is
// configured but not started; call StartWithGracefulShutdown to begin
// accepting connections.
func New(cfg *config.Config, engine *correlation.Engine, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	server := &Server{
		config:    cfg,
		logger:    logger,
		engine:    engine,
		startTime: time.Now().UTC(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.HandleFunc("/api/v1/stats", server.handleStats)
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	return server, nil
}

// GetAddr returns the address the server is configured to listen on.
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

// StartWithGracefulShutdown starts the server and blocks until SIGINT or
// SIGTERM, then shuts down with a bounded drain period.
func (s *Server) StartWithGracefulShutdown() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Starting operational HTTP listener",
			"address", s.httpServer.Addr,
			"read_timeout", s.httpServer.ReadTimeout,
			"write_timeout", s.httpServer.WriteTimeout)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		s.logger.Info("Received shutdown signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Shutdown stops the server without waiting for a signal.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:       "ok",
		Version:      Version,
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		ActiveGroups: s.engine.GetStats().ActiveGroups,
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.GetStats())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
