package domain

import (
	"sort"
	"time"
)

// PriceRow es una fila histórica: precio YES y NO en un instante.
type PriceRow struct {
	Timestamp time.Time
	PriceYes  float64
	PriceNo   float64
}

// HistoricalMarket es la serie ordenada por tiempo de un mercado cerrado o grabado.
type HistoricalMarket struct {
	Name string
	Rows []PriceRow
}

// Session deriva una sesión sintética desde la serie: del primer al último tick.
// Si se conoce la duración nominal y la serie cabe en ella, se alinea al slot.
func (m HistoricalMarket) Session(nominal time.Duration) Session {
	if len(m.Rows) == 0 {
		return Session{Slug: m.Name}
	}
	first := m.Rows[0].Timestamp
	last := m.Rows[len(m.Rows)-1].Timestamp
	start, end := first, last
	if nominal > 0 {
		slot := SlotStart(first, nominal)
		if !last.After(slot.Add(nominal)) {
			start, end = slot, slot.Add(nominal)
		}
	}
	if !end.After(start) {
		end = start.Add(time.Second)
	}
	return Session{Slug: m.Name, Start: start, End: end}
}

// Winner es el lado que se asume ganador en la liquidación aproximada del backtest.
type Winner string

const (
	WinnerYes     Winner = "YES"
	WinnerNo      Winner = "NO"
	WinnerUnknown Winner = "UNKNOWN"
)

// MarketResult es el resultado de un mercado en el backtest compuesto.
type MarketResult struct {
	RunID         string        `json:"run_id"`
	Number        int           `json:"market_number"`
	Market        string        `json:"market"`
	Ticks         int           `json:"ticks"`
	CapitalBefore float64       `json:"capital_before"`
	CapitalAfter  float64       `json:"capital_after"`
	ProfitReal    float64       `json:"profit_real"`
	ProfitLocked  float64       `json:"profit_locked"`
	ProfitFinal   float64       `json:"profit_final"`
	Winner        Winner        `json:"winner"`
	FinalPairCost float64       `json:"final_pair_cost"`
	Trades        int           `json:"trades"`
	SafetyTrades  int           `json:"safety_trades"`
	Locked        bool          `json:"locked"`
	ROIPct        float64       `json:"roi_pct"`
	TradeLog      []TradeRecord `json:"trades_log,omitempty"`
}

// BacktestSummary agrega los resultados de todos los mercados.
type BacktestSummary struct {
	RunID          string
	StartedAt      time.Time
	InitialCapital float64
	FinalCapital   float64
	TotalProfit    float64
	ROIPct         float64
	Markets        int
	Winners        int
	WinRatePct     float64
	AvgTrades      float64
	Results        []MarketResult
}

// PricePoint es un punto de /prices-history.
type PricePoint struct {
	Timestamp time.Time
	Price     float64
}

// MergePricePoints une las series YES y NO por timestamp exacto.
// Solo quedan los instantes presentes en ambas series, ordenados.
func MergePricePoints(yes, no []PricePoint) []PriceRow {
	byTs := make(map[int64]float64, len(no))
	for _, p := range no {
		byTs[p.Timestamp.Unix()] = p.Price
	}
	rows := make([]PriceRow, 0, len(yes))
	for _, p := range yes {
		if pn, ok := byTs[p.Timestamp.Unix()]; ok {
			rows = append(rows, PriceRow{Timestamp: p.Timestamp, PriceYes: p.Price, PriceNo: pn})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows
}

// Best devuelve los n mercados con mayor profit final, de mayor a menor.
func (s BacktestSummary) Best(n int) []MarketResult {
	return s.ranked(n, func(a, b MarketResult) bool { return a.ProfitFinal > b.ProfitFinal })
}

// Worst devuelve los n mercados con menor profit final, de menor a mayor.
func (s BacktestSummary) Worst(n int) []MarketResult {
	return s.ranked(n, func(a, b MarketResult) bool { return a.ProfitFinal < b.ProfitFinal })
}

func (s BacktestSummary) ranked(n int, less func(a, b MarketResult) bool) []MarketResult {
	out := make([]MarketResult, len(s.Results))
	copy(out, s.Results)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
