package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/adapters/storage"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func makeTrade(sessionID string, tick int, action domain.Action, price, qty float64) domain.TradeRecord {
	return domain.TradeRecord{
		SessionID:        sessionID,
		Slug:             "btc-updown-15m-1731000600",
		Tick:             tick,
		Timestamp:        time.Now().UTC().Truncate(time.Second),
		Action:           action,
		Price:            price,
		Qty:              qty,
		PairCostAfter:    0.951234567,
		CapitalLeft:      800.123,
		GuaranteedProfit: -12.3456789,
		BalanceRatio:     1,
	}
}

func TestSQLiteStorage_TradesInOrder(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.RecordTrade(ctx, makeTrade("s1", 1, domain.ActionYes, 0.35, 571.428571)))
	require.NoError(t, db.RecordTrade(ctx, makeTrade("s1", 4, domain.ActionSafeNo, 0.601234567, 571.428571)))
	require.NoError(t, db.RecordTrade(ctx, makeTrade("s2", 1, domain.ActionNo, 0.4, 100)))

	trades, err := db.SessionTrades(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, domain.ActionYes, trades[0].Action)
	assert.Equal(t, domain.ActionSafeNo, trades[1].Action)
	// se guardan redondeados
	assert.InDelta(t, 571.43, trades[0].Qty, 1e-9)
	assert.InDelta(t, 0.60123, trades[1].Price, 1e-9)
	assert.InDelta(t, 0.9512, trades[0].PairCostAfter, 1e-9)
	assert.False(t, trades[0].Timestamp.IsZero())
}

func TestSQLiteStorage_RecordSessionUpsert(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	start := time.Unix(1731000600, 0).UTC()
	res := domain.SessionResult{
		Session:  domain.Session{ID: "s1", Slug: "btc-updown-15m-1731000600", YesID: "y", NoID: "n", Start: start, End: start.Add(15 * time.Minute)},
		ClosedAt: start.Add(15 * time.Minute),
		Ticks:    120,
		Ledger: domain.LedgerState{
			InitialCapital: 1000, Capital: 600,
			QtyYes: 500, CostYes: 200, QtyNo: 500, CostNo: 200,
			PairCost: 0.8, GuaranteedProfit: 100, Locked: true, Trades: 2,
		},
	}
	require.NoError(t, db.RecordSession(ctx, res))

	res.Ticks = 130
	require.NoError(t, db.RecordSession(ctx, res))

	sessions, err := db.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	got := sessions[0]
	assert.Equal(t, 130, got.Ticks)
	assert.True(t, got.Ledger.Locked)
	assert.InDelta(t, 0.4, got.Ledger.AvgYes, 1e-9)
	assert.True(t, start.Equal(got.Session.Start))
}

func TestSQLiteStorage_Backtest(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	sum := domain.BacktestSummary{
		RunID:          "run-1",
		StartedAt:      time.Now().UTC(),
		InitialCapital: 1000,
		FinalCapital:   1050,
		Markets:        2,
		Results: []domain.MarketResult{
			{Number: 1, Market: "a.csv", ProfitFinal: 60, Winner: domain.WinnerYes, Locked: true, Trades: 2},
			{Number: 2, Market: "b.csv", ProfitFinal: -10, Winner: domain.WinnerUnknown, Trades: 1, SafetyTrades: 1},
		},
	}
	require.NoError(t, db.RecordBacktest(ctx, sum))

	results, err := db.BacktestResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.csv", results[0].Market)
	assert.True(t, results[0].Locked)
	assert.Equal(t, domain.WinnerUnknown, results[1].Winner)
	assert.Equal(t, 1, results[1].SafetyTrades)

	// mismo run_id dos veces → error, nada a medias
	assert.Error(t, db.RecordBacktest(ctx, sum))
}

func TestSQLiteStorage_EmptyQueries(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	trades, err := db.SessionTrades(context.Background(), "none")
	require.NoError(t, err)
	assert.Empty(t, trades)

	sessions, err := db.RecentSessions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

// recordingSink guarda lo recibido; opcionalmente bloquea hasta release.
type recordingSink struct {
	mu      sync.Mutex
	trades  []domain.TradeRecord
	results int
	release chan struct{}
	err     error
}

func (r *recordingSink) RecordTrade(_ context.Context, tr domain.TradeRecord) error {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, tr)
	return r.err
}

func (r *recordingSink) RecordSession(context.Context, domain.SessionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results++
	return r.err
}

func (r *recordingSink) RecordBacktest(context.Context, domain.BacktestSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results++
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

func TestAsyncSink_DrainsOnClose(t *testing.T) {
	next := &recordingSink{}
	s := storage.NewAsyncSink(next, 16)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.RecordTrade(ctx, makeTrade("s", i, domain.ActionYes, 0.4, 10)))
	}
	require.NoError(t, s.RecordSession(ctx, domain.SessionResult{}))
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, 10, next.count())
	assert.Equal(t, 1, next.results)
	assert.ErrorIs(t, s.RecordTrade(ctx, domain.TradeRecord{}), storage.ErrSinkClosed)
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	next := &recordingSink{release: make(chan struct{})}
	s := storage.NewAsyncSink(next, 2)
	ctx := context.Background()

	// 1 en curso (bloqueado) + 2 en buffer; el resto se descarta sin bloquear
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = s.RecordTrade(ctx, makeTrade("s", i, domain.ActionYes, 0.4, 10))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordTrade blocked on a full buffer")
	}

	close(next.release)
	require.NoError(t, s.Close(ctx))
	assert.LessOrEqual(t, next.count(), 3)
	assert.GreaterOrEqual(t, next.count(), 1)
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("disk full")}
	m := storage.Multi{ok, bad}

	err := m.RecordTrade(context.Background(), makeTrade("s", 1, domain.ActionNo, 0.5, 1))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, bad.count())

	require.Error(t, m.RecordBacktest(context.Background(), domain.BacktestSummary{}))
	assert.Equal(t, 1, ok.results)
}
