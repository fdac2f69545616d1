package domain

import "math"

// capitalEpsilon absorbe el error de coma flotante de qty = capital/price.
const capitalEpsilon = 1e-9

// Ledger es la posición acumulada de una sesión: cantidades y costes por lado,
// capital restante y estado de bloqueo. Lo posee una única sesión y solo lo
// mutan acciones aceptadas por el motor. No es seguro para uso concurrente.
type Ledger struct {
	initial float64
	qtyYes  float64
	costYes float64
	qtyNo   float64
	costNo  float64
	locked  bool
	trades  []TradeRecord
}

// NewLedger crea un ledger vacío con el capital inicial dado.
func NewLedger(initialCapital float64) *Ledger {
	return &Ledger{initial: initialCapital}
}

// Reset reinicializa todos los campos al capital inicial y sin posiciones.
func (l *Ledger) Reset() {
	*l = Ledger{initial: l.initial}
}

// ResetWithCapital reinicializa el ledger con un nuevo capital inicial
// (capital compuesto entre mercados en el backtest).
func (l *Ledger) ResetWithCapital(initialCapital float64) {
	*l = Ledger{initial: initialCapital}
}

func (l *Ledger) InitialCapital() float64 { return l.initial }

// Capital es el efectivo disponible: inicial menos lo gastado en ambos lados.
func (l *Ledger) Capital() float64 {
	return l.initial - l.costYes - l.costNo
}

func (l *Ledger) Qty(leg Leg) float64 {
	if leg == LegNo {
		return l.qtyNo
	}
	return l.qtyYes
}

func (l *Ledger) Cost(leg Leg) float64 {
	if leg == LegNo {
		return l.costNo
	}
	return l.costYes
}

// Avg es el precio medio pagado por el lado; 0 si no hay cantidad.
func (l *Ledger) Avg(leg Leg) float64 {
	q := l.Qty(leg)
	if q <= 0 {
		return 0
	}
	return l.Cost(leg) / q
}

// PairCost es avg(YES) + avg(NO).
func (l *Ledger) PairCost() float64 {
	return l.Avg(LegYes) + l.Avg(LegNo)
}

// GuaranteedProfit es el payout mínimo (min de cantidades) menos el coste total.
func (l *Ledger) GuaranteedProfit() float64 {
	return math.Min(l.qtyYes, l.qtyNo) - (l.costYes + l.costNo)
}

// Imbalance devuelve cuántos contratos le faltan al lado dado para igualar al otro.
func (l *Ledger) Imbalance(leg Leg) float64 {
	return math.Max(l.Qty(leg.Opposite())-l.Qty(leg), 0)
}

// BalanceRatio es min/max de cantidades (1 = perfectamente cubierto).
func (l *Ledger) BalanceRatio() float64 {
	hi := math.Max(l.qtyYes, l.qtyNo)
	if hi <= 0 {
		return 0
	}
	return math.Min(l.qtyYes, l.qtyNo) / hi
}

// Empty indica que no hay posición en ningún lado.
func (l *Ledger) Empty() bool {
	return l.qtyYes == 0 && l.qtyNo == 0
}

// OneSided devuelve el único lado con posición, si lo hay.
func (l *Ledger) OneSided() (Leg, bool) {
	switch {
	case l.qtyYes > 0 && l.qtyNo == 0:
		return LegYes, true
	case l.qtyNo > 0 && l.qtyYes == 0:
		return LegNo, true
	}
	return LegYes, false
}

func (l *Ledger) Locked() bool { return l.locked }

// Lock es la transición OPEN → LOCKED. Es irreversible hasta Reset.
func (l *Ledger) Lock() { l.locked = true }

// Apply compra qty contratos del lado a price.
// Falla con *InsufficientCapitalError si qty·price supera el capital disponible.
func (l *Ledger) Apply(leg Leg, qty, price float64) error {
	if l.locked {
		return ErrLedgerLocked
	}
	if qty <= 0 || price <= 0 {
		return nil
	}
	notional := qty * price
	if avail := l.Capital(); notional > avail+capitalEpsilon {
		return &InsufficientCapitalError{Required: notional, Available: avail}
	}
	if leg == LegNo {
		l.qtyNo += qty
		l.costNo += notional
	} else {
		l.qtyYes += qty
		l.costYes += notional
	}
	return nil
}

// SimulatePairCost devuelve el pair cost hipotético tras comprar qty a price.
// No muta el ledger.
func (l *Ledger) SimulatePairCost(leg Leg, qty, price float64) float64 {
	if qty <= 0 {
		return l.PairCost()
	}
	newAvg := (l.Cost(leg) + qty*price) / (l.Qty(leg) + qty)
	return newAvg + l.Avg(leg.Opposite())
}

// Record añade un registro al historial de trades de la sesión.
func (l *Ledger) Record(tr TradeRecord) {
	l.trades = append(l.trades, tr)
}

// Trades devuelve una copia del historial.
func (l *Ledger) Trades() []TradeRecord {
	out := make([]TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// State devuelve una foto inmutable del ledger para reporting.
func (l *Ledger) State() LedgerState {
	return LedgerState{
		InitialCapital:   l.initial,
		Capital:          l.Capital(),
		QtyYes:           l.qtyYes,
		CostYes:          l.costYes,
		AvgYes:           l.Avg(LegYes),
		QtyNo:            l.qtyNo,
		CostNo:           l.costNo,
		AvgNo:            l.Avg(LegNo),
		PairCost:         l.PairCost(),
		GuaranteedProfit: l.GuaranteedProfit(),
		Locked:           l.locked,
		Trades:           len(l.trades),
	}
}

// LedgerState es una copia de solo lectura del ledger.
type LedgerState struct {
	InitialCapital   float64 `json:"initial_capital"`
	Capital          float64 `json:"capital"`
	QtyYes           float64 `json:"qty_yes"`
	CostYes          float64 `json:"cost_yes"`
	AvgYes           float64 `json:"avg_yes"`
	QtyNo            float64 `json:"qty_no"`
	CostNo           float64 `json:"cost_no"`
	AvgNo            float64 `json:"avg_no"`
	PairCost         float64 `json:"pair_cost"`
	GuaranteedProfit float64 `json:"guaranteed_profit"`
	Locked           bool    `json:"locked"`
	Trades           int     `json:"trades"`
}
