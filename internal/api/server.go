package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/alertstream/siem-engine/internal/config"
	"github.com/alertstream/siem-engine/internal/ingest"
	"github.com/alertstream/siem-engine/internal/metrics"
	"github.com/alertstream/siem-engine/internal/store"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, st *store.Store, pipeline *ingest.Pipeline, tailer *ingest.Tailer, version string, startTime time.Time, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(CORS)

	alerts := NewAlertsHandler(pipeline)
	health := NewHealthHandler(st, pipeline, tailer, version, startTime)

	// REST routes get access logging and metrics instrumentation.
	r.Group(func(r chi.Router) {
		r.Use(Logger(log))
		r.Use(metrics.InstrumentHandler)

		r.Post("/ingest", alerts.Ingest)
		r.Get("/alerts", alerts.Recent)
		r.Get("/api/v1/health", health.ServeHTTP)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	})

	// The WebSocket route skips the wrapping middleware: the upgrade
	// needs the raw http.Hijacker and the connection outlives any
	// per-request accounting.
	r.Get("/ws", NewWSHandler(pipeline, log).ServeHTTP)

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
