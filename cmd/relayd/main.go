package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pricewire/leadlag/internal/config"
	"github.com/pricewire/leadlag/internal/market"
	"github.com/pricewire/leadlag/internal/server"
	"github.com/pricewire/leadlag/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, defaults apply without one)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relayd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadAndValidate(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"slug_prefix", cfg.Resolver.SlugPrefix,
		"market_window", cfg.Resolver.Window,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	resolver := market.NewGammaResolver(cfg.Resolver, logger)

	srv := server.New(cfg, resolver, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("relayd running",
		"stream", "/api/stream",
		"health", "/healthz",
		"metrics", cfg.Server.MetricsPath,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("relayd stopped")
}
