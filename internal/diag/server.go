// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package diag serves the local diagnostic endpoint: health, pipeline
// stats and Prometheus metrics. It is operator plumbing for a loopback
// listener, deliberately without auth or an admin UI.
package diag

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/crashbeacon/internal/logging"
	"github.com/tomtom215/crashbeacon/internal/pipeline"
)

// DefaultRequestsPerMinute caps diagnostic requests per client IP.
const DefaultRequestsPerMinute = 60

// Timeouts for the diagnostic listener. Generous for a loopback
// endpoint serving small JSON bodies.
const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Config holds diagnostic server settings.
type Config struct {
	// Listen is the address to bind, e.g. "127.0.0.1:6060".
	Listen string

	// RequestsPerMinute is the per-IP rate cap. Zero uses the default.
	RequestsPerMinute int
}

// Server exposes pipeline state over HTTP.
type Server struct {
	pipeline *pipeline.Pipeline
	srv      *http.Server
	log      zerolog.Logger
}

// New creates a diagnostic server over the given pipeline.
func New(cfg Config, p *pipeline.Pipeline) *Server {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}

	s := &Server{
		pipeline: p,
		log:      logging.Component("diag"),
	}

	s.srv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.routes(cfg.RequestsPerMinute),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// routes assembles the router: panic recovery and per-IP rate limiting
// globally, then the three diagnostic endpoints.
func (s *Server) routes(rpm int) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(rpm, time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/stats", s.handleStats)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Handler returns the router without a listener, for embedding into a
// host-owned mux.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving the diagnostic endpoint until the
// context is canceled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("diagnostic endpoint listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.Stats(r.Context()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("writing diagnostic response failed")
	}
}
