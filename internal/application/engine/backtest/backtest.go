// Package backtest replays historical markets through the same controller and
// engine used live, compounding capital from one market to the next.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polyhedge/internal/application/engine"
	"github.com/alejandrodnm/polyhedge/internal/application/session"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const defaultCapital = 1000

// Config holds the backtest settings.
type Config struct {
	InitialCapital float64
	// SessionLength alinea la serie al slot nominal para calcular el progreso.
	SessionLength time.Duration
	// TradeLogDir recibe un JSON por mercado. Vacío = sin logs.
	TradeLogDir string
}

// Driver runs a compounding backtest.
type Driver struct {
	strategy strategy.Strategy
	history  ports.HistoryProvider
	results  ports.ResultSink
	trades   ports.TradeSink
	cfg      Config
}

// New creates a backtest driver. results and trades may be nil.
func New(strat strategy.Strategy, history ports.HistoryProvider, results ports.ResultSink, trades ports.TradeSink, cfg Config) *Driver {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = defaultCapital
	}
	return &Driver{
		strategy: strat,
		history:  history,
		results:  results,
		trades:   trades,
		cfg:      cfg,
	}
}

// Run replays every market in order. Each market starts with the capital left
// by the previous one plus its final profit.
func (d *Driver) Run(ctx context.Context) (domain.BacktestSummary, error) {
	markets, err := d.history.LoadMarkets(ctx)
	if err != nil {
		return domain.BacktestSummary{}, fmt.Errorf("backtest.Run: load markets: %w", err)
	}

	summary := domain.BacktestSummary{
		RunID:          uuid.NewString(),
		StartedAt:      time.Now().UTC(),
		InitialCapital: d.cfg.InitialCapital,
	}

	var ex engine.SimulatedExecutor
	ctrl := session.NewController(engine.New(d.strategy, domain.NewLedger(d.cfg.InitialCapital), ex, d.trades))

	capital := d.cfg.InitialCapital
	var totalTrades int
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("backtest.Run: %w", err)
		}
		if len(m.Rows) == 0 {
			continue
		}

		n := len(summary.Results) + 1
		s := m.Session(d.cfg.SessionLength)
		s.ID = fmt.Sprintf("%s-%03d", summary.RunID[:8], n)

		slog.Info("backtest: processing market",
			"n", n,
			"market", m.Name,
			"ticks", len(m.Rows),
			"capital", fmt.Sprintf("$%.2f", capital),
		)

		ctrl.BeginWithCapital(s, capital)
		for _, row := range m.Rows {
			ctrl.OnRow(ctx, row)
		}
		last := m.Rows[len(m.Rows)-1]
		res := ctrl.End(last.Timestamp)

		mr, profit := Settle(res, last, capital)
		mr.RunID = summary.RunID
		mr.Number = n
		mr.Market = m.Name
		capital += profit

		summary.TotalProfit += profit
		if profit > 0 {
			summary.Winners++
		}
		totalTrades += mr.Trades
		summary.Results = append(summary.Results, mr)

		if err := d.writeTradeLog(mr); err != nil {
			slog.Warn("backtest: trade log failed", "market", m.Name, "err", err)
		}
	}

	summary.Markets = len(summary.Results)
	summary.FinalCapital = domain.Round(capital, 2)
	summary.TotalProfit = domain.Round(summary.TotalProfit, 2)
	summary.ROIPct = domain.Round((capital-d.cfg.InitialCapital)/d.cfg.InitialCapital*100, 2)
	if summary.Markets > 0 {
		summary.WinRatePct = domain.Round(float64(summary.Winners)/float64(summary.Markets)*100, 1)
		summary.AvgTrades = domain.Round(float64(totalTrades)/float64(summary.Markets), 1)
	}

	slog.Info("backtest: complete",
		"run_id", summary.RunID,
		"markets", summary.Markets,
		"final_capital", fmt.Sprintf("$%.2f", summary.FinalCapital),
		"roi_pct", summary.ROIPct,
	)

	if d.results != nil {
		if err := d.results.RecordBacktest(ctx, summary); err != nil {
			return summary, fmt.Errorf("backtest.Run: record: %w", err)
		}
	}
	return summary, nil
}

// tradeLog es el JSON por mercado.
type tradeLog struct {
	Market        string               `json:"market"`
	CapitalBefore float64              `json:"capital_before"`
	ProfitFinal   float64              `json:"profit_final"`
	CapitalAfter  float64              `json:"capital_after"`
	Winner        domain.Winner        `json:"winner"`
	Trades        []domain.TradeRecord `json:"trades"`
}

func (d *Driver) writeTradeLog(mr domain.MarketResult) error {
	if d.cfg.TradeLogDir == "" {
		return nil
	}
	if err := os.MkdirAll(d.cfg.TradeLogDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	trades := mr.TradeLog
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	b, err := json.MarshalIndent(tradeLog{
		Market:        mr.Market,
		CapitalBefore: mr.CapitalBefore,
		ProfitFinal:   mr.ProfitFinal,
		CapitalAfter:  mr.CapitalAfter,
		Winner:        mr.Winner,
		Trades:        trades,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	name := strings.TrimSuffix(mr.Market, filepath.Ext(mr.Market)) + "_log.json"
	return os.WriteFile(filepath.Join(d.cfg.TradeLogDir, name), b, 0o644)
}
