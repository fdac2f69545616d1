package domain

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_EmptyAverages(t *testing.T) {
	l := NewLedger(1000)
	assert.Equal(t, 0.0, l.Avg(LegYes))
	assert.Equal(t, 0.0, l.Avg(LegNo))
	assert.Equal(t, 0.0, l.PairCost())
	assert.Equal(t, 0.0, l.GuaranteedProfit())
	assert.Equal(t, 1000.0, l.Capital())
	assert.True(t, l.Empty())
}

func TestLedger_ApplyUpdatesLegAndCapital(t *testing.T) {
	l := NewLedger(1000)
	require.NoError(t, l.Apply(LegYes, 100, 0.40))

	assert.InDelta(t, 100, l.Qty(LegYes), 1e-9)
	assert.InDelta(t, 40, l.Cost(LegYes), 1e-9)
	assert.InDelta(t, 0.40, l.Avg(LegYes), 1e-9)
	assert.InDelta(t, 960, l.Capital(), 1e-9)

	side, ok := l.OneSided()
	assert.True(t, ok)
	assert.Equal(t, LegYes, side)
}

func TestLedger_PairCostAndGuaranteedProfit(t *testing.T) {
	l := NewLedger(1000)
	require.NoError(t, l.Apply(LegYes, 100, 0.40))
	require.NoError(t, l.Apply(LegNo, 100, 0.55))

	// avg 0.40 + 0.55
	assert.InDelta(t, 0.95, l.PairCost(), 1e-9)
	// min(100,100) - 95
	assert.InDelta(t, 5, l.GuaranteedProfit(), 1e-9)
	assert.InDelta(t, 1.0, l.BalanceRatio(), 1e-9)
}

func TestLedger_ApplyInsufficientCapital(t *testing.T) {
	l := NewLedger(50)
	err := l.Apply(LegNo, 200, 0.30)

	var capErr *InsufficientCapitalError
	require.True(t, errors.As(err, &capErr))
	assert.InDelta(t, 60, capErr.Required, 1e-9)
	assert.InDelta(t, 50, capErr.Available, 1e-9)
	assert.True(t, l.Empty(), "failed apply must not mutate")
}

func TestLedger_ApplyExactCapital(t *testing.T) {
	l := NewLedger(100)
	// qty = capital/price tiene error de redondeo; no debe fallar.
	require.NoError(t, l.Apply(LegYes, 100/0.37, 0.37))
	assert.InDelta(t, 0, l.Capital(), 1e-9)
}

func TestLedger_LockedRejectsMutation(t *testing.T) {
	l := NewLedger(1000)
	l.Lock()
	err := l.Apply(LegYes, 10, 0.5)
	assert.ErrorIs(t, err, ErrLedgerLocked)
	assert.True(t, l.Empty())
}

func TestLedger_SimulatePairCostDoesNotMutate(t *testing.T) {
	l := NewLedger(1000)
	require.NoError(t, l.Apply(LegYes, 571.43, 0.35))
	before := l.State()

	got := l.SimulatePairCost(LegNo, 571.43, 0.60)
	assert.InDelta(t, 0.95, got, 1e-6)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		leg := LegYes
		if r.Intn(2) == 1 {
			leg = LegNo
		}
		l.SimulatePairCost(leg, r.Float64()*1000, r.Float64())
	}
	assert.Equal(t, before, l.State())
}

func TestLedger_SimulateZeroQtyReturnsCurrent(t *testing.T) {
	l := NewLedger(1000)
	require.NoError(t, l.Apply(LegYes, 100, 0.40))
	assert.InDelta(t, l.PairCost(), l.SimulatePairCost(LegNo, 0, 0.9), 1e-12)
}

func TestLedger_ResetRestoresInitial(t *testing.T) {
	l := NewLedger(500)
	require.NoError(t, l.Apply(LegYes, 100, 0.40))
	l.Record(TradeRecord{Action: ActionYes})
	l.Lock()

	l.Reset()

	assert.Equal(t, LedgerState{InitialCapital: 500, Capital: 500}, l.State())
	assert.Empty(t, l.Trades())
}

func TestLedger_CapitalInvariantUnderRandomTrades(t *testing.T) {
	const initial = 1000.0
	l := NewLedger(initial)
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		leg := LegYes
		if r.Intn(2) == 1 {
			leg = LegNo
		}
		_ = l.Apply(leg, r.Float64()*50, 0.01+r.Float64()*0.98)

		assert.GreaterOrEqual(t, l.Qty(LegYes), 0.0)
		assert.GreaterOrEqual(t, l.Qty(LegNo), 0.0)
		assert.GreaterOrEqual(t, l.Cost(LegYes), 0.0)
		assert.GreaterOrEqual(t, l.Cost(LegNo), 0.0)
		assert.InDelta(t, initial-l.Cost(LegYes)-l.Cost(LegNo), l.Capital(), 1e-9)
	}
}

func TestLedger_TradesReturnsCopy(t *testing.T) {
	l := NewLedger(100)
	l.Record(TradeRecord{Action: ActionYes, Qty: 1})

	trades := l.Trades()
	trades[0].Qty = 99

	assert.Equal(t, 1.0, l.Trades()[0].Qty)
}
