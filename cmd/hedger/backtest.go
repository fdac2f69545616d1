package main

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/polyhedge/config"
	"github.com/alejandrodnm/polyhedge/internal/adapters/history"
	"github.com/alejandrodnm/polyhedge/internal/application/engine/backtest"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

func runBacktest(ctx context.Context, cfg *config.Config, reporter ports.Reporter) error {
	slog.Info("=== BACKTEST MODE: replaying recorded markets ===",
		"data_dir", cfg.Backtest.DataDir,
		"capital", cfg.Backtest.InitialCapital,
	)

	params, err := cfg.StrategyParams()
	if err != nil {
		return err
	}
	strat, err := strategy.NewHedge(params)
	if err != nil {
		return err
	}

	audit, err := openAudit(ctx, cfg)
	if err != nil {
		return err
	}
	defer audit.Close()

	driver := backtest.New(
		strat,
		history.NewCSVStore(cfg.Backtest.DataDir, cfg.Backtest.MinRows),
		audit.sink,
		audit.sink,
		backtest.Config{
			InitialCapital: cfg.Backtest.InitialCapital,
			SessionLength:  cfg.Session.Length,
			TradeLogDir:    cfg.Backtest.TradeLogDir,
		},
	)

	summary, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	reporter.Backtest(summary)
	return nil
}
