package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlotStart_RoundsDownTo15m(t *testing.T) {
	ts := time.Unix(1731000000+437, 0)
	slot := SlotStart(ts, 15*time.Minute)
	assert.Equal(t, int64(1731000000-1731000000%900), slot.Unix())
	assert.Equal(t, slot.Add(15*time.Minute), NextSlot(ts, 15*time.Minute))
}

func TestSlotSlug(t *testing.T) {
	slot := time.Unix(1731000600, 0)
	assert.Equal(t, "btc-updown-15m-1731000600", SlotSlug("btc-updown-15m", slot))
}

func TestSession_Progress(t *testing.T) {
	start := time.Unix(1731000600, 0).UTC()
	s := Session{Start: start, End: start.Add(15 * time.Minute)}

	assert.Equal(t, 0.0, s.Progress(start.Add(-time.Minute)))
	assert.InDelta(t, 0.5, s.Progress(start.Add(450*time.Second)), 1e-9)
	assert.Equal(t, 1.0, s.Progress(start.Add(time.Hour)))
	assert.True(t, s.Contains(start))
	assert.False(t, s.Contains(start.Add(15*time.Minute)))
}

func TestSession_ZeroDurationProgress(t *testing.T) {
	assert.Equal(t, 0.0, Session{}.Progress(time.Now()))
}

func TestHistoricalMarket_SessionAlignsToSlot(t *testing.T) {
	slot := time.Unix(1731000600, 0).UTC()
	m := HistoricalMarket{Name: "m", Rows: []PriceRow{
		{Timestamp: slot.Add(10 * time.Second)},
		{Timestamp: slot.Add(14 * time.Minute)},
	}}

	s := m.Session(15 * time.Minute)
	assert.Equal(t, slot, s.Start)
	assert.Equal(t, slot.Add(15*time.Minute), s.End)
}

func TestHistoricalMarket_SessionSpansRowsWhenLonger(t *testing.T) {
	first := time.Unix(1731000600, 0).UTC()
	m := HistoricalMarket{Name: "m", Rows: []PriceRow{
		{Timestamp: first},
		{Timestamp: first.Add(2 * time.Hour)},
	}}

	s := m.Session(15 * time.Minute)
	assert.Equal(t, first, s.Start)
	assert.Equal(t, first.Add(2*time.Hour), s.End)
}

func TestQuote_Missing(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "", Quote{BestBid: 0.49, BestAsk: 0.51, Mid: 0.5, Timestamp: now}.Missing())
	assert.Equal(t, "bid", Quote{BestAsk: 0.5, Mid: 0.5, Timestamp: now}.Missing())
	assert.Equal(t, "timestamp", Quote{BestBid: 0.4, BestAsk: 0.5, Mid: 0.45}.Missing())
}

func TestTradeRecord_Rounded(t *testing.T) {
	tr := TradeRecord{Price: 0.123456, Qty: 571.428571, PairCostAfter: 0.951234, CapitalLeft: 799.999}.Rounded()
	assert.Equal(t, 0.12346, tr.Price)
	assert.Equal(t, 571.43, tr.Qty)
	assert.Equal(t, 0.9512, tr.PairCostAfter)
	assert.Equal(t, 800.0, tr.CapitalLeft)
}
