package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/polyhedge/config"
	"github.com/alejandrodnm/polyhedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyhedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	mode := flag.String("mode", "", "live|backtest|record|download (overrides config)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	trades := flag.Bool("trades", false, "print the trade table of every closed session")
	dataDir := flag.String("data", "", "CSV directory for backtest/record/download (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *dataDir != "" {
		cfg.Backtest.DataDir = *dataDir
		cfg.Record.Dir = *dataDir
		cfg.Download.Dir = *dataDir
	}
	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		var cerr *domain.ConfigurationError
		if errors.As(err, &cerr) {
			slog.Error("invalid configuration", "field", cerr.Field, "reason", cerr.Reason)
		} else {
			slog.Error("invalid configuration", "err", err)
		}
		os.Exit(1)
	}

	slog.Info("hedger starting",
		"config", *configPath,
		"mode", cfg.Mode,
		"preset", cfg.Strategy.Preset,
		"dry_run", cfg.Trading.Simulated(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)
	reporter := notify.NewConsole(*trades)

	switch cfg.Mode {
	case config.ModeLive:
		err = runLive(ctx, cfg, client, reporter)
	case config.ModeBacktest:
		err = runBacktest(ctx, cfg, reporter)
	case config.ModeRecord:
		err = runRecord(ctx, cfg, client)
	case config.ModeDownload:
		err = runDownload(ctx, cfg, client)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("hedger exited with error", "mode", cfg.Mode, "err", err)
		os.Exit(1)
	}

	slog.Info("hedger stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
