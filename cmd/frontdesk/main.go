package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sebas/frontdesk/internal/app"
	"github.com/sebas/frontdesk/internal/banner"
	"github.com/sebas/frontdesk/internal/config"
	"github.com/sebas/frontdesk/internal/logger"
)

func main() {
	_ = godotenv.Load() // loads .env

	// Initialize logger
	logger.InitLogger(os.Stdout)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	banner.Print("FRONT DESK", app.Summary(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fd, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create front desk", "error", err)
		os.Exit(1)
	}

	runErr := fd.Run(ctx)
	if runErr != nil {
		slog.Error("Front desk stopped", "error", runErr)
	} else {
		slog.Info("Received signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fd.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Shutdown completed with errors", "error", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
	slog.Info("Front desk stopped")
}
