package main

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/polyhedge/config"
	"github.com/alejandrodnm/polyhedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyhedge/internal/application/recorder"
)

func runRecord(ctx context.Context, cfg *config.Config, client *polymarket.Client) error {
	slog.Info("=== RECORD MODE: polling midpoints to CSV ===",
		"dir", cfg.Record.Dir,
		"interval", cfg.Record.Interval,
		"prefix", cfg.Session.SlugPrefix,
	)

	rec := recorder.New(
		polymarket.NewSessionLocator(client, cfg.Session.SlugPrefix, cfg.Session.Length),
		client,
		recorder.Config{
			Dir:      cfg.Record.Dir,
			Interval: cfg.Record.Interval,
			Grace:    cfg.Record.Grace,
		},
	)
	return rec.Run(ctx)
}
