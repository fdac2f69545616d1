package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/application/engine"
	"github.com/alejandrodnm/polyhedge/internal/application/session"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slot = time.Unix(1731000600, 0).UTC()

func newController(t *testing.T, preset string, capital float64) *session.Controller {
	t.Helper()
	p, err := strategy.Preset(preset)
	require.NoError(t, err)
	h, err := strategy.NewHedge(p)
	require.NoError(t, err)
	e := engine.New(h, domain.NewLedger(capital), engine.SimulatedExecutor{}, nil)
	return session.NewController(e)
}

func testSession(id string) domain.Session {
	return domain.Session{
		ID:    id,
		Slug:  "btc-updown-15m-" + id,
		YesID: id + "-yes",
		NoID:  id + "-no",
		Start: slot,
		End:   slot.Add(15 * time.Minute),
	}
}

func snap(offset time.Duration, yes, no float64) domain.Snapshot {
	return domain.SnapshotFromPrices(slot.Add(offset), yes, no)
}

func TestController_IgnoresSnapshotsWithoutSession(t *testing.T) {
	c := newController(t, "classic", 1000)

	d, ok := c.OnSnapshot(context.Background(), snap(time.Minute, 0.35, 0.68))

	assert.False(t, ok)
	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Zero(t, c.Ticks())
}

func TestController_DuplicateMidsDoNotTick(t *testing.T) {
	c := newController(t, "classic", 1000)
	c.Begin(testSession("a"))
	ctx := context.Background()

	_, ok := c.OnSnapshot(ctx, snap(10*time.Second, 0.50, 0.50))
	require.True(t, ok)
	_, ok = c.OnSnapshot(ctx, snap(20*time.Second, 0.50, 0.50))
	assert.False(t, ok)
	_, ok = c.OnSnapshot(ctx, snap(30*time.Second, 0.51, 0.49))
	assert.True(t, ok)

	assert.Equal(t, 2, c.Ticks())
	assert.InDelta(t, 0.02, c.Status().Trend, 1e-9)
}

func TestController_TrendIsSignedAccumulation(t *testing.T) {
	c := newController(t, "classic", 1000)
	c.Begin(testSession("a"))
	ctx := context.Background()

	c.OnRow(ctx, domain.PriceRow{Timestamp: slot.Add(time.Second), PriceYes: 0.45, PriceNo: 0.55})
	c.OnRow(ctx, domain.PriceRow{Timestamp: slot.Add(2 * time.Second), PriceYes: 0.40, PriceNo: 0.60})
	c.OnRow(ctx, domain.PriceRow{Timestamp: slot.Add(3 * time.Second), PriceYes: 0.40, PriceNo: 0.60})

	st := c.Status()
	assert.Equal(t, 3, st.Tick, "rows always tick, even with repeated prices")
	assert.InDelta(t, -0.50, st.Trend, 1e-9)
}

func TestController_ProgressFromSnapshotTime(t *testing.T) {
	c := newController(t, "classic", 1000)
	c.Begin(testSession("a"))

	c.OnRow(context.Background(), domain.PriceRow{Timestamp: slot.Add(450 * time.Second), PriceYes: 0.5, PriceNo: 0.5})

	assert.InDelta(t, 0.5, c.Status().Progress, 1e-9)
}

func TestController_RolloverResetsState(t *testing.T) {
	c := newController(t, "classic", 1000)
	ctx := context.Background()

	c.Begin(testSession("a"))
	d, ok := c.OnSnapshot(ctx, snap(time.Minute, 0.35, 0.68))
	require.True(t, ok)
	require.Equal(t, domain.ActionYes, d.Action)

	res := c.End(slot.Add(15 * time.Minute))
	assert.Equal(t, "a", res.Session.ID)
	assert.Equal(t, 1, res.Ticks)
	require.Len(t, res.Trades, 1)
	assert.InDelta(t, 571.43, res.Ledger.QtyYes, 0.01)
	assert.False(t, c.Active())

	c.Begin(testSession("b"))
	st := c.Status()
	assert.True(t, st.Active)
	assert.Equal(t, "b", st.Session.ID)
	assert.Zero(t, st.Tick)
	assert.Zero(t, st.Trend)
	assert.Equal(t, domain.LedgerState{InitialCapital: 1000, Capital: 1000}, st.Ledger)

	// mismo snapshot que la sesión anterior: en una sesión nueva sí cuenta.
	_, ok = c.OnSnapshot(ctx, snap(time.Minute, 0.35, 0.68))
	assert.True(t, ok)
}

func TestController_BeginWithCapitalCompounds(t *testing.T) {
	c := newController(t, "classic", 1000)

	c.BeginWithCapital(testSession("a"), 1250)

	assert.InDelta(t, 1250, c.Status().Ledger.Capital, 1e-9)
}

func TestController_LockedSessionStaysLocked(t *testing.T) {
	c := newController(t, "classic", 1000)
	c.Begin(testSession("a"))
	ctx := context.Background()

	c.OnSnapshot(ctx, snap(time.Minute, 0.35, 0.68))
	d, _ := c.OnSnapshot(ctx, snap(2*time.Minute, 0.38, 0.60))
	require.Equal(t, domain.ActionNo, d.Action)

	d, ok := c.OnSnapshot(ctx, snap(3*time.Minute, 0.20, 0.20))
	assert.True(t, ok)
	assert.Equal(t, domain.ActionLocked, d.Action)
	assert.Equal(t, domain.ActionLocked, c.Status().LastAction)
	assert.True(t, c.Status().Ledger.Locked)
}
