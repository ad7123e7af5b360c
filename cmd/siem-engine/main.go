package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/alertstream/siem-engine/internal/api"
	"github.com/alertstream/siem-engine/internal/config"
	"github.com/alertstream/siem-engine/internal/ingest"
	"github.com/alertstream/siem-engine/internal/store"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.AlertsFile, "alerts-file", "", "alert log to tail (overrides ALERTS_FILE)")
	flag.StringVar(&overrides.DBFile, "db-file", "", "alert database path (overrides DB_FILE)")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("siem-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	storeLog := log.With().Str("component", "store").Logger()
	st, err := store.Open(cfg.DBFile, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open alert store")
	}
	defer st.Close()

	// Pipeline
	pipeline := ingest.NewPipeline(ingest.PipelineOptions{
		Store:                st,
		RetentionLimit:       cfg.RetentionLimit,
		StartupLoadLimit:     cfg.StartupLoadLimit,
		PruneInterval:        cfg.PruneInterval,
		CorrelationWindowSec: cfg.CorrelationWindowSeconds,
		CorrelationThreshold: cfg.CorrelationThreshold,
		Log:                  log,
	})
	pipeline.Start()

	// Tailer
	tailer := ingest.NewTailer(cfg.AlertsFile, pipeline, log)
	tailerDone := make(chan struct{})
	go func() {
		defer close(tailerDone)
		if err := tailer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("tailer failed")
		}
	}()

	// HTTP server
	srv := api.NewServer(cfg, st, pipeline, tailer, version, startTime, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}
	stop()

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	<-tailerDone
	pipeline.Stop()

	log.Info().Msg("siem-engine stopped")
}
