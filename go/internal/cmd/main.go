package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mapclash/mapclash/go/internal/document"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer database.Close()

	pool, err := setupPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup pgx pool")
	}
	defer pool.Close()

	snapshotConfig := document.DefaultSnapshotStreamConfig()
	snapshotConfig.URL = getEnv("NATS_URL", snapshotConfig.URL)
	if config.Snapshots.StreamName != "" {
		snapshotConfig.StreamName = config.Snapshots.StreamName
	}
	if config.Snapshots.SubjectPrefix != "" {
		snapshotConfig.SubjectPrefix = config.Snapshots.SubjectPrefix
	}
	if config.Snapshots.MaxAge > 0 {
		snapshotConfig.MaxAge = config.Snapshots.MaxAge
	}

	snapshots, err := document.NewSnapshotStream(ctx, snapshotConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect snapshot stream")
	}
	defer snapshots.Close()

	services, err := setupServices(ctx, database, pool, snapshots)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}

	server := setupServer(services)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("challenge service starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("challenge service shutdown complete")
}
