package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord es la entrada de auditoría de un trade ejecutado. Append-only.
type TradeRecord struct {
	SessionID        string    `json:"session_id"`
	Slug             string    `json:"slug"`
	Tick             int       `json:"tick"`
	Timestamp        time.Time `json:"ts"`
	Action           Action    `json:"action"`
	Price            float64   `json:"price"`
	Qty              float64   `json:"qty"`
	PairCostAfter    float64   `json:"pair_cost_after"`
	CapitalLeft      float64   `json:"capital_left"`
	GuaranteedProfit float64   `json:"guaranteed_profit"`
	BalanceRatio     float64   `json:"balance_ratio"`
}

// Rounded devuelve el registro redondeado para persistir y mostrar:
// precio a 5 decimales, cantidad y capital a 2, pair cost a 4.
func (t TradeRecord) Rounded() TradeRecord {
	t.Price = Round(t.Price, 5)
	t.Qty = Round(t.Qty, 2)
	t.PairCostAfter = Round(t.PairCostAfter, 4)
	t.CapitalLeft = Round(t.CapitalLeft, 2)
	t.GuaranteedProfit = Round(t.GuaranteedProfit, 4)
	t.BalanceRatio = Round(t.BalanceRatio, 4)
	return t
}

// Notional es el coste en USDC del trade.
func (t TradeRecord) Notional() float64 {
	return t.Qty * t.Price
}

// Round redondea v a places decimales (half away from zero).
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
