package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/askwise/askrelay/internal/config"
	"github.com/askwise/askrelay/internal/relay"
	"github.com/askwise/askrelay/internal/server"
	"github.com/askwise/askrelay/internal/storage"
	"github.com/askwise/askrelay/internal/storage/memory"
	"github.com/askwise/askrelay/internal/storage/sqlite"
	"github.com/askwise/askrelay/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracer("askrelay", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Upstream.BaseURL == "" {
		// Handlers fail fast per request; a startup warning makes the
		// misconfiguration visible before the first one does.
		logger.Warn("upstream base URL is not configured, ask routes will return config errors")
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	upstreamTimeout, err := time.ParseDuration(cfg.Upstream.Timeout)
	if err != nil {
		log.Fatalf("Invalid upstream timeout %q: %v", cfg.Upstream.Timeout, err)
	}

	opts := []relay.Option{relay.WithUpstreamTimeout(upstreamTimeout)}
	if store != nil {
		opts = append(opts, relay.WithInteractionStore(store))
	}
	handler := relay.NewHandler(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, logger, opts...)

	srv := server.New(cfg.Server.Port, logger, cfg.Server.AllowedOrigin)
	handler.Mount(srv.Router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	logger.Info("shutdown complete")
}

func openStore(cfg *config.Config) (storage.InteractionStore, func() error, error) {
	switch cfg.Storage.Type {
	case "", "none":
		return nil, nil, nil
	case "memory":
		return memory.New(), nil, nil
	case "sqlite":
		path := cfg.Storage.SQLite.Path
		if path == "" {
			path = "./data/askrelay.db"
		}
		store, err := sqlite.New(path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
