package storage

// sqlite.go: auditoría persistente de la operativa.
//
//   - `trades`: append-only, una fila por trade ejecutado.
//   - `sessions`: una fila por sesión cerrada con el ledger final (UPSERT por id).
//   - `backtest_runs` + `backtest_results`: resumen y detalle por mercado.
//   - Prune al arrancar: trades y sesiones > 90d. Los backtests no caducan.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id        TEXT     NOT NULL,
    slug              TEXT,
    tick              INTEGER  NOT NULL,
    ts                DATETIME NOT NULL,
    action            TEXT     NOT NULL,
    price             REAL     NOT NULL,
    qty               REAL     NOT NULL,
    pair_cost_after   REAL     NOT NULL DEFAULT 0,
    capital_left      REAL     NOT NULL DEFAULT 0,
    guaranteed_profit REAL     NOT NULL DEFAULT 0,
    balance_ratio     REAL     NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
    id                TEXT PRIMARY KEY,
    slug              TEXT,
    question          TEXT,
    yes_id            TEXT,
    no_id             TEXT,
    start_at          DATETIME,
    end_at            DATETIME,
    closed_at         DATETIME NOT NULL,
    ticks             INTEGER  NOT NULL DEFAULT 0,
    initial_capital   REAL     NOT NULL DEFAULT 0,
    capital_left      REAL     NOT NULL DEFAULT 0,
    qty_yes           REAL     NOT NULL DEFAULT 0,
    cost_yes          REAL     NOT NULL DEFAULT 0,
    qty_no            REAL     NOT NULL DEFAULT 0,
    cost_no           REAL     NOT NULL DEFAULT 0,
    pair_cost         REAL     NOT NULL DEFAULT 0,
    guaranteed_profit REAL     NOT NULL DEFAULT 0,
    locked            INTEGER  NOT NULL DEFAULT 0,
    trades            INTEGER  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS backtest_runs (
    run_id          TEXT PRIMARY KEY,
    started_at      DATETIME NOT NULL,
    initial_capital REAL     NOT NULL,
    final_capital   REAL     NOT NULL,
    total_profit    REAL     NOT NULL,
    roi_pct         REAL     NOT NULL,
    markets         INTEGER  NOT NULL,
    winners         INTEGER  NOT NULL,
    win_rate_pct    REAL     NOT NULL,
    avg_trades      REAL     NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_results (
    run_id          TEXT    NOT NULL,
    market_number   INTEGER NOT NULL,
    market          TEXT    NOT NULL,
    ticks           INTEGER NOT NULL,
    capital_before  REAL    NOT NULL,
    capital_after   REAL    NOT NULL,
    profit_real     REAL    NOT NULL,
    profit_locked   REAL    NOT NULL,
    profit_final    REAL    NOT NULL,
    winner          TEXT    NOT NULL,
    final_pair_cost REAL    NOT NULL,
    trades          INTEGER NOT NULL,
    safety_trades   INTEGER NOT NULL,
    locked          INTEGER NOT NULL,
    roi_pct         REAL    NOT NULL,
    PRIMARY KEY (run_id, market_number)
);

CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id, id);
CREATE INDEX IF NOT EXISTS idx_trades_ts      ON trades(ts DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_close ON sessions(closed_at DESC);
`

const retention = 90 * 24 * time.Hour

// SQLiteStorage implementa ports.AuditSink usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada, aplica el
// schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// RecordTrade añade un trade. Se guarda redondeado.
func (s *SQLiteStorage) RecordTrade(ctx context.Context, tr domain.TradeRecord) error {
	tr = tr.Rounded()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(session_id, slug, tick, ts, action, price, qty,
			 pair_cost_after, capital_left, guaranteed_profit, balance_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.SessionID, tr.Slug, tr.Tick, tr.Timestamp.UTC(), string(tr.Action), tr.Price, tr.Qty,
		tr.PairCostAfter, tr.CapitalLeft, tr.GuaranteedProfit, tr.BalanceRatio,
	); err != nil {
		return fmt.Errorf("storage.RecordTrade: %w", err)
	}
	return nil
}

// RecordSession guarda el cierre de una sesión. Los trades ya llegaron por RecordTrade.
func (s *SQLiteStorage) RecordSession(ctx context.Context, res domain.SessionResult) error {
	ss, l := res.Session, res.Ledger
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, slug, question, yes_id, no_id, start_at, end_at, closed_at, ticks,
			 initial_capital, capital_left, qty_yes, cost_yes, qty_no, cost_no,
			 pair_cost, guaranteed_profit, locked, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			closed_at         = excluded.closed_at,
			ticks             = excluded.ticks,
			capital_left      = excluded.capital_left,
			qty_yes           = excluded.qty_yes,
			cost_yes          = excluded.cost_yes,
			qty_no            = excluded.qty_no,
			cost_no           = excluded.cost_no,
			pair_cost         = excluded.pair_cost,
			guaranteed_profit = excluded.guaranteed_profit,
			locked            = excluded.locked,
			trades            = excluded.trades`,
		ss.ID, ss.Slug, ss.Question, ss.YesID, ss.NoID, ss.Start.UTC(), ss.End.UTC(), res.ClosedAt.UTC(), res.Ticks,
		l.InitialCapital, domain.Round(l.Capital, 2), l.QtyYes, l.CostYes, l.QtyNo, l.CostNo,
		domain.Round(l.PairCost, 4), domain.Round(l.GuaranteedProfit, 4), boolInt(l.Locked), l.Trades,
	); err != nil {
		return fmt.Errorf("storage.RecordSession %s: %w", ss.ID, err)
	}
	return nil
}

// RecordBacktest guarda el resumen y cada mercado en una transacción.
func (s *SQLiteStorage) RecordBacktest(ctx context.Context, sum domain.BacktestSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordBacktest: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(run_id, started_at, initial_capital, final_capital, total_profit,
			 roi_pct, markets, winners, win_rate_pct, avg_trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.StartedAt.UTC(), sum.InitialCapital, sum.FinalCapital, sum.TotalProfit,
		sum.ROIPct, sum.Markets, sum.Winners, sum.WinRatePct, sum.AvgTrades,
	); err != nil {
		return fmt.Errorf("storage.RecordBacktest: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_results
			(run_id, market_number, market, ticks, capital_before, capital_after,
			 profit_real, profit_locked, profit_final, winner, final_pair_cost,
			 trades, safety_trades, locked, roi_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.RecordBacktest: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range sum.Results {
		if _, err := stmt.ExecContext(ctx,
			sum.RunID, r.Number, r.Market, r.Ticks, r.CapitalBefore, r.CapitalAfter,
			r.ProfitReal, r.ProfitLocked, r.ProfitFinal, string(r.Winner), r.FinalPairCost,
			r.Trades, r.SafetyTrades, boolInt(r.Locked), r.ROIPct,
		); err != nil {
			return fmt.Errorf("storage.RecordBacktest: insert %s: %w", r.Market, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.RecordBacktest: commit: %w", err)
	}
	return nil
}

// SessionTrades devuelve los trades de una sesión en orden de ejecución.
func (s *SQLiteStorage) SessionTrades(ctx context.Context, sessionID string) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, slug, tick, ts, action, price, qty,
		       pair_cost_after, capital_left, guaranteed_profit, balance_ratio
		FROM trades
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage.SessionTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var tr domain.TradeRecord
		var action string
		if err := rows.Scan(
			&tr.SessionID, &tr.Slug, &tr.Tick, &tr.Timestamp, &action, &tr.Price, &tr.Qty,
			&tr.PairCostAfter, &tr.CapitalLeft, &tr.GuaranteedProfit, &tr.BalanceRatio,
		); err != nil {
			return nil, fmt.Errorf("storage.SessionTrades: scan row: %w", err)
		}
		tr.Action = domain.Action(action)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// RecentSessions devuelve las últimas sesiones cerradas, más recientes primero.
func (s *SQLiteStorage) RecentSessions(ctx context.Context, limit int) ([]domain.SessionResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, question, yes_id, no_id, start_at, end_at, closed_at, ticks,
		       initial_capital, capital_left, qty_yes, cost_yes, qty_no, cost_no,
		       pair_cost, guaranteed_profit, locked, trades
		FROM sessions
		ORDER BY closed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentSessions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionResult
	for rows.Next() {
		var r domain.SessionResult
		var locked int
		if err := rows.Scan(
			&r.Session.ID, &r.Session.Slug, &r.Session.Question, &r.Session.YesID, &r.Session.NoID,
			&r.Session.Start, &r.Session.End, &r.ClosedAt, &r.Ticks,
			&r.Ledger.InitialCapital, &r.Ledger.Capital, &r.Ledger.QtyYes, &r.Ledger.CostYes,
			&r.Ledger.QtyNo, &r.Ledger.CostNo, &r.Ledger.PairCost, &r.Ledger.GuaranteedProfit,
			&locked, &r.Ledger.Trades,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentSessions: scan row: %w", err)
		}
		r.Ledger.Locked = locked == 1
		if r.Ledger.QtyYes > 0 {
			r.Ledger.AvgYes = r.Ledger.CostYes / r.Ledger.QtyYes
		}
		if r.Ledger.QtyNo > 0 {
			r.Ledger.AvgNo = r.Ledger.CostNo / r.Ledger.QtyNo
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BacktestResults devuelve el detalle por mercado de un run, en orden.
func (s *SQLiteStorage) BacktestResults(ctx context.Context, runID string) ([]domain.MarketResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_number, market, ticks, capital_before, capital_after,
		       profit_real, profit_locked, profit_final, winner, final_pair_cost,
		       trades, safety_trades, locked, roi_pct
		FROM backtest_results
		WHERE run_id = ?
		ORDER BY market_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.BacktestResults: query: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketResult
	for rows.Next() {
		r := domain.MarketResult{RunID: runID}
		var winner string
		var locked int
		if err := rows.Scan(
			&r.Number, &r.Market, &r.Ticks, &r.CapitalBefore, &r.CapitalAfter,
			&r.ProfitReal, &r.ProfitLocked, &r.ProfitFinal, &winner, &r.FinalPairCost,
			&r.Trades, &r.SafetyTrades, &locked, &r.ROIPct,
		); err != nil {
			return nil, fmt.Errorf("storage.BacktestResults: scan row: %w", err)
		}
		r.Winner = domain.Winner(winner)
		r.Locked = locked == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retention)
	s.db.ExecContext(ctx, `DELETE FROM trades WHERE ts < ?`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM sessions WHERE closed_at < ?`, cutoff)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
