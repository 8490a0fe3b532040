package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	monitor "github.com/mlop-ai/monitor"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "run a single poll cycle and exit")
	flag.Parse()

	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("MONITOR_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := monitor.New(
		monitor.WithVersion(version),
		monitor.WithLogger(logger),
	)
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}

	if *once {
		res, err := app.RunOnce(ctx)
		if err != nil {
			slog.Error("cycle failed", "error", err)
			return 1
		}
		slog.Info("cycle finished",
			"loaded", res.Loaded,
			"failed", res.Failed,
			"cancelled", res.Cancelled,
			"skipped", res.Skipped,
			"errors", res.Errors,
			"duration_ms", res.Duration.Milliseconds(),
		)
		return 0
	}

	if err := app.Run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
