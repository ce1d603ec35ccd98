// Package api serves the DeckLink sync status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/video-system/go-decklink-sync/pkg/compositor"
)

const shutdownTimeout = 5 * time.Second

// SyncEngine is the part of the compositor runner the API uses
type SyncEngine interface {
	GetStatus() compositor.SyncStatus
	SetLatencyPreference(preference float32) error
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host   string
	Port   int
	Engine SyncEngine
	Logger *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger.With("component", "api")}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/mode", s.handleMode)
		r.Post("/latency", s.handleLatency)
	})
	return r
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("API server starting", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("API shutdown", "error", err)
	}
}

// loggingMiddleware logs each request at debug level
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.cfg.Engine.GetStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"service":          "go-decklink-sync",
		"hardware_present": status.HardwarePresent,
		"enabled":          status.Enabled,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Engine.GetStatus())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	status := s.cfg.Engine.GetStatus()
	if status.Mode == nil {
		writeError(w, http.StatusNotFound, "no display mode selected")
		return
	}
	writeJSON(w, http.StatusOK, status.Mode)
}

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Preference *float32 `json:"preference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Preference == nil {
		writeError(w, http.StatusBadRequest, "preference is required")
		return
	}

	if err := s.cfg.Engine.SetLatencyPreference(*req.Preference); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"preference": *req.Preference,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
