// Package main is the entry point for the finguard drift monitor.
// It watches portfolio allocations, proposes rebalancing plans when drift
// crosses the policy threshold, and records every decision in a hash-chained
// audit ledger that a human approves before anything is executed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/di"
	"github.com/finguard/finguard/internal/scheduler"
	"github.com/finguard/finguard/internal/server"
	"github.com/finguard/finguard/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// main orchestrates startup:
// 1. Loads configuration from the environment (.env) and the policy file
// 2. Initializes logging
// 3. Wires databases, services and jobs via the DI container
// 4. Starts the scheduler and the HTTP server
// 5. Waits for a shutdown signal and stops everything in reverse order
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Fallback logger so the configuration error is still reported
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("version", version).
		Str("data_dir", cfg.DataDir).
		Str("policy_file", cfg.PolicyFile).
		Bool("ephemeral", cfg.Ephemeral).
		Msg("Starting finguard")

	sched := scheduler.New(log)

	container, jobs, err := di.Wire(cfg, sched, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Container: container,
		Jobs:      jobs,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Version:   version,
	})

	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop the scheduler first so no job starts against a closing store
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
