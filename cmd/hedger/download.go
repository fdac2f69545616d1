package main

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/polyhedge/config"
	"github.com/alejandrodnm/polyhedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyhedge/internal/application/download"
)

func runDownload(ctx context.Context, cfg *config.Config, client *polymarket.Client) error {
	d := cfg.Download
	dl := download.New(client, client, download.Config{
		Dir:            d.Dir,
		TagID:          d.TagID,
		MaxPages:       d.MaxPages,
		QuestionFilter: d.QuestionFilter,
		MinRows:        d.MinRows,
		MaxMarkets:     d.MaxMarkets,
		Workers:        d.Workers,
		Interval:       d.Interval,
		Fidelity:       d.Fidelity,
	})

	rep, err := dl.Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("download: complete",
		"listed", rep.Listed,
		"matched", rep.Matched,
		"saved", rep.Saved,
		"skipped", rep.Skipped,
		"dir", d.Dir,
	)
	return nil
}
