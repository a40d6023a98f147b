package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"edgenode/internal/app"
	"edgenode/internal/config"
	"edgenode/internal/logging"
)

var version = "dev"
var appName = "edgenode-collector"

func main() {
	cfg, err := config.LoadCollectorFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.New(cfg.Logging, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	runErr := app.RunCollector(ctx, cfg)
	stop()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run failed", "err", runErr)
		_ = closer.Close()
		os.Exit(1)
	}

	slog.Info("shutting down")
	_ = closer.Close()
}
