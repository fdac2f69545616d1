package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyhedge/config"
	"github.com/alejandrodnm/polyhedge/internal/adapters/httpapi"
	"github.com/alejandrodnm/polyhedge/internal/adapters/onchain"
	"github.com/alejandrodnm/polyhedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyhedge/internal/adapters/storage"
	"github.com/alejandrodnm/polyhedge/internal/application/engine"
	"github.com/alejandrodnm/polyhedge/internal/application/engine/live"
	"github.com/alejandrodnm/polyhedge/internal/application/quotes"
	"github.com/alejandrodnm/polyhedge/internal/application/session"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const auditDrainTimeout = 10 * time.Second

func runLive(ctx context.Context, cfg *config.Config, client *polymarket.Client, reporter ports.Reporter) error {
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

	async := storage.NewAsyncSink(audit.sink, cfg.Audit.Buffer)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
		defer cancel()
		if err := async.Close(drainCtx); err != nil {
			slog.Warn("audit: drain incomplete", "err", err)
		}
	}()

	executor, merger, err := newExecution(ctx, cfg, client)
	if err != nil {
		return err
	}

	eng := engine.New(strat, domain.NewLedger(cfg.Trading.InitialCapital), executor, async)
	runner := live.New(
		polymarket.NewSessionLocator(client, cfg.Session.SlugPrefix, cfg.Session.Length),
		newFeed(cfg, client),
		quotes.NewStore(),
		session.NewController(eng),
		async,
		reporter,
		live.Config{
			TickInterval:   cfg.Session.TickInterval,
			DiscoveryRetry: cfg.Session.DiscoveryRetry,
			StopFile:       cfg.Session.StopFile,
		},
	)
	if merger != nil {
		runner.WithMerger(merger)
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := httpapi.Serve(ctx, cfg.Metrics.Addr, httpapi.NewRouter(runner, audit.history())); err != nil {
				slog.Error("httpapi: server error", "err", err)
			}
		}()
	}

	slog.Info("live: running",
		"strategy", strat.Name(),
		"feed", cfg.Feed.Kind,
		"capital", fmt.Sprintf("$%.2f", cfg.Trading.InitialCapital),
		"tick", cfg.Session.TickInterval,
	)
	return runner.Run(ctx)
}

func newFeed(cfg *config.Config, client *polymarket.Client) ports.QuoteFeed {
	if cfg.Feed.Kind == "poll" {
		return polymarket.NewPollFeed(client, client, cfg.Feed.PollInterval)
	}
	return polymarket.NewStreamFeed(cfg.Feed.WSURL)
}

// newExecution devuelve el executor y, con merge_on_lock, el merger on-chain.
func newExecution(ctx context.Context, cfg *config.Config, client *polymarket.Client) (ports.TradeExecutor, ports.PairMerger, error) {
	if cfg.Trading.Simulated() {
		slog.Info("live: dry run, fills are simulated")
		return engine.SimulatedExecutor{}, nil, nil
	}

	fmt.Printf("\n⚠️  LIVE TRADING MODE — REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Initial capital: $%.2f | Preset: %s | Order type: %s\n",
		cfg.Trading.InitialCapital, cfg.Strategy.Preset, cfg.Trading.OrderType)
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

	abortTimer := time.NewTimer(5 * time.Second)
	defer abortTimer.Stop()
	select {
	case <-abortTimer.C:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	auth, err := polymarket.NewAuthClient(client, cfg.Trading.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return nil, nil, fmt.Errorf("derive API credentials (check POLY_PRIVATE_KEY): %w", err)
	}
	slog.Info("live: authenticated with Polymarket CLOB", "address", auth.Address())
	executor := polymarket.NewTradingClient(auth, cfg.Trading.OrderType)

	if !cfg.Trading.MergeOnLock {
		return executor, nil, nil
	}

	merger, err := onchain.Dial(cfg.Trading.RPCURL, cfg.Trading.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("live: checking USDC.e allowance...")
	if err := merger.EnsureAllowance(ctx); err != nil {
		return nil, nil, err
	}
	slog.Info("live: on-chain merge enabled", "address", merger.Address())
	return executor, merger, nil
}
