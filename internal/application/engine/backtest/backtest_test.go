package backtest_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/application/engine/backtest"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHistory struct {
	markets []domain.HistoricalMarket
	err     error
}

func (h staticHistory) LoadMarkets(context.Context) ([]domain.HistoricalMarket, error) {
	return h.markets, h.err
}

type captureResults struct {
	summary *domain.BacktestSummary
}

func (c *captureResults) RecordSession(context.Context, domain.SessionResult) error { return nil }

func (c *captureResults) RecordBacktest(_ context.Context, s domain.BacktestSummary) error {
	c.summary = &s
	return nil
}

var slot = time.Unix(1731000600, 0).UTC()

func series(name string, prices ...[2]float64) domain.HistoricalMarket {
	m := domain.HistoricalMarket{Name: name}
	for i, p := range prices {
		m.Rows = append(m.Rows, domain.PriceRow{
			Timestamp: slot.Add(time.Duration(i*10) * time.Second),
			PriceYes:  p[0],
			PriceNo:   p[1],
		})
	}
	return m
}

func classic(t *testing.T) strategy.Strategy {
	t.Helper()
	p, err := strategy.Preset("classic")
	require.NoError(t, err)
	h, err := strategy.NewHedge(p)
	require.NoError(t, err)
	return h
}

// hedged: entra YES a 0.35, cubre NO a 0.60 con el mismo qty, y YES resuelve.
func hedged(name string) domain.HistoricalMarket {
	return series(name, [2]float64{0.35, 0.68}, [2]float64{0.38, 0.60}, [2]float64{0.70, 0.30}, [2]float64{0.95, 0.05})
}

func flat(name string) domain.HistoricalMarket {
	return series(name, [2]float64{0.50, 0.50}, [2]float64{0.52, 0.48}, [2]float64{0.55, 0.45})
}

func TestDriver_CompoundsCapital(t *testing.T) {
	sink := &captureResults{}
	d := backtest.New(classic(t), staticHistory{markets: []domain.HistoricalMarket{hedged("a.csv"), flat("b.csv")}}, sink, nil,
		backtest.Config{InitialCapital: 1000, SessionLength: 15 * time.Minute})

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Results, 2)

	// qty = 200/0.35 por lado; coste 200 + qty*0.60
	qty := 200 / 0.35
	profit := qty - (200 + qty*0.60)

	a := sum.Results[0]
	assert.Equal(t, 1, a.Number)
	assert.Equal(t, "a.csv", a.Market)
	assert.Equal(t, domain.WinnerYes, a.Winner)
	assert.Equal(t, 2, a.Trades)
	assert.True(t, a.Locked)
	assert.InDelta(t, profit, a.ProfitFinal, 1e-3)
	assert.InDelta(t, profit, a.ProfitLocked, 1e-3)
	assert.InDelta(t, 1000, a.CapitalBefore, 1e-9)
	assert.InDelta(t, 0.95, a.FinalPairCost, 1e-4)
	assert.InDelta(t, profit/(200+qty*0.60)*100, a.ROIPct, 0.01)

	b := sum.Results[1]
	assert.InDelta(t, 1000+profit, b.CapitalBefore, 0.01, "second market starts with compounded capital")
	assert.Equal(t, domain.WinnerUnknown, b.Winner)
	assert.Zero(t, b.Trades)
	assert.Zero(t, b.ProfitFinal)

	assert.Equal(t, 2, sum.Markets)
	assert.Equal(t, 1, sum.Winners)
	assert.InDelta(t, 50.0, sum.WinRatePct, 1e-9)
	assert.InDelta(t, 1.0, sum.AvgTrades, 1e-9)
	assert.InDelta(t, 1000+profit, sum.FinalCapital, 0.01)
	assert.InDelta(t, profit/1000*100, sum.ROIPct, 0.01)
	assert.Equal(t, sum.RunID, a.RunID)

	require.NotNil(t, sink.summary)
	assert.Equal(t, sum.RunID, sink.summary.RunID)
}

func TestDriver_WritesTradeLogs(t *testing.T) {
	dir := t.TempDir()
	d := backtest.New(classic(t), staticHistory{markets: []domain.HistoricalMarket{hedged("btc-updown-15m-1_polling.csv")}}, nil, nil,
		backtest.Config{InitialCapital: 1000, SessionLength: 15 * time.Minute, TradeLogDir: dir})

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "btc-updown-15m-1_polling_log.json"))
	require.NoError(t, err)

	var log struct {
		Market string               `json:"market"`
		Trades []domain.TradeRecord `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(raw, &log))
	assert.Equal(t, "btc-updown-15m-1_polling.csv", log.Market)
	require.Len(t, log.Trades, 2)
	assert.Equal(t, domain.ActionYes, log.Trades[0].Action)
	assert.Equal(t, domain.ActionNo, log.Trades[1].Action)
}

func TestDriver_LoadError(t *testing.T) {
	d := backtest.New(classic(t), staticHistory{err: errors.New("no such dir")}, nil, nil, backtest.Config{})

	_, err := d.Run(context.Background())
	assert.ErrorContains(t, err, "no such dir")
}

func TestDriver_SkipsEmptySeries(t *testing.T) {
	d := backtest.New(classic(t), staticHistory{markets: []domain.HistoricalMarket{{Name: "empty.csv"}, flat("b.csv")}}, nil, nil, backtest.Config{})

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, 1, sum.Results[0].Number)
	assert.InDelta(t, 1000, sum.InitialCapital, 1e-9, "default capital")
}

func TestDetectWinner(t *testing.T) {
	cases := []struct {
		name    string
		yes, no float64
		want    domain.Winner
	}{
		{"yes resolved", 0.97, 0.03, domain.WinnerYes},
		{"no resolved", 0.04, 0.96, domain.WinnerNo},
		{"threshold is strict", 0.90, 0.10, domain.WinnerUnknown},
		{"undecided", 0.55, 0.45, domain.WinnerUnknown},
		{"both high, yes not below", 0.95, 0.95, domain.WinnerYes},
		{"both high, no larger", 0.92, 0.95, domain.WinnerNo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, backtest.DetectWinner(domain.PriceRow{PriceYes: tc.yes, PriceNo: tc.no}))
		})
	}
}

func TestSettle_UnknownWinnerLosesCost(t *testing.T) {
	l := domain.NewLedger(1000)
	require.NoError(t, l.Apply(domain.LegYes, 500, 0.40))
	res := domain.SessionResult{Session: domain.Session{Slug: "m"}, Ledger: l.State()}

	mr, profit := backtest.Settle(res, domain.PriceRow{PriceYes: 0.5, PriceNo: 0.5}, 1000)

	assert.InDelta(t, -200, profit, 1e-9)
	assert.InDelta(t, -200, mr.ProfitReal, 1e-9)
	assert.InDelta(t, -200, mr.ProfitLocked, 1e-9)
	assert.InDelta(t, 800, mr.CapitalAfter, 1e-9)
	assert.InDelta(t, -100, mr.ROIPct, 1e-9)
}

func TestSettle_WinningSideBeatsLocked(t *testing.T) {
	l := domain.NewLedger(1000)
	require.NoError(t, l.Apply(domain.LegYes, 500, 0.40))
	res := domain.SessionResult{Ledger: l.State()}

	mr, profit := backtest.Settle(res, domain.PriceRow{PriceYes: 0.99, PriceNo: 0.01}, 1000)

	assert.Equal(t, domain.WinnerYes, mr.Winner)
	assert.InDelta(t, 300, profit, 1e-9)
	assert.InDelta(t, 150, mr.ROIPct, 1e-9)
}

func TestSummary_BestAndWorst(t *testing.T) {
	sum := domain.BacktestSummary{Results: []domain.MarketResult{
		{Number: 1, ProfitFinal: 5},
		{Number: 2, ProfitFinal: -3},
		{Number: 3, ProfitFinal: 12},
		{Number: 4, ProfitFinal: 0},
	}}

	best := sum.Best(2)
	require.Len(t, best, 2)
	assert.Equal(t, 3, best[0].Number)
	assert.Equal(t, 1, best[1].Number)

	worst := sum.Worst(5)
	require.Len(t, worst, 4)
	assert.Equal(t, 2, worst[0].Number)
	assert.Equal(t, 1, sum.Results[0].Number, "ranking does not reorder results")
}
