/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/config"
	"github.com/aiulian25/soundwave/internal/db"
	"github.com/aiulian25/soundwave/internal/logbuffer"
	"github.com/aiulian25/soundwave/internal/logging"
	"github.com/aiulian25/soundwave/internal/server"
	"github.com/aiulian25/soundwave/internal/telemetry"
	"github.com/aiulian25/soundwave/internal/version"
)

const (
	// logBufferCapacity bounds the in-memory ring behind /system/logs.
	logBufferCapacity = 1000

	shutdownTimeout = 10 * time.Second
)

var (
	logger zerolog.Logger
	logBuf *logbuffer.Buffer
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "soundwave",
	Short:   "Soundwave - Personal media library for YouTube subscriptions",
	Long:    "Soundwave turns YouTube subscriptions into a self-hosted audio library with smart playlists and radio-style playback.",
	Version: version.String(),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Soundwave server",
	Long:  "Start the HTTP API server, ingest pipeline, and subscription refresh loop",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap runs before any command logic; it wires the log ring in as a
// secondary sink so recent lines are queryable over the API.
func bootstrap() error {
	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	logBuf = logbuffer.New(logBufferCapacity)
	logger = logging.SetupWithWriter(cfg.Environment, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}, logbuffer.NewWriter(logBuf, nil))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}

	logger.Info().Str("version", version.String()).Msg("Soundwave starting")

	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.TracerConfig{
		ServiceName:    "soundwave",
		ServiceVersion: version.String(),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown failed")
		}
	}()

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := srv.HTTPServer()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	// Wait for a signal, or for the listener to fail outright.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			_ = srv.Close()
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("drain http server")
	}
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("close server resources")
	}

	logger.Info().Msg("Soundwave stopped")
	return nil
}

// openDatabase opens the database for maintenance commands. Migrating here
// lets them run against a fresh database before the first serve.
func openDatabase() (*gorm.DB, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		return nil, err
	}
	return database, nil
}
