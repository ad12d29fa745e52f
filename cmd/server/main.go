package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sandbox-gateway/internal/api"
	"sandbox-gateway/internal/auth"
	"sandbox-gateway/internal/backend"
	"sandbox-gateway/internal/config"
	"sandbox-gateway/internal/monitor"
	"sandbox-gateway/internal/sandbox"
	"sandbox-gateway/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics registry shared by middleware and the lifecycle manager
	metrics := monitor.NewMetrics()

	// Database is required: sandbox records and API keys live there
	if cfg.Database.DSN == "" {
		log.Fatal().Msg("database.dsn (or DATABASE_DSN env) is required")
	}
	db, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Execution backend client, shared across requests
	be := backend.NewClient(cfg.Backend.BaseURL)
	defer be.Close()

	// Credential verifier: one strategy per deployment
	var verifier auth.Verifier
	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
		log.Info().Str("audience", cfg.Auth.JWTAudience).Msg("using JWT authentication")
	case config.AuthModeAPIKey:
		verifier = auth.NewAPIKeyVerifier(storage.NewAPIKeyStore(db), cfg.Auth.KeyPrefix)
		log.Info().Str("prefix", cfg.Auth.KeyPrefix).Msg("using API key authentication")
	default:
		log.Fatal().Str("mode", cfg.Auth.Mode).Msg("unknown auth mode")
	}

	manager := sandbox.NewManager(storage.NewSandboxStore(db), be, metrics, cfg.Limits.MaxSandboxesPerUser)

	server := api.NewServer(cfg, manager, verifier, db, be, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("backend", cfg.Backend.BaseURL).
		Str("auth_mode", cfg.Auth.Mode).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
