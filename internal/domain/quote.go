package domain

import "time"

// Quote es el último precio publicado para un instrumento.
// Los valores se copian al publicarse, nunca se mutan después.
type Quote struct {
	InstrumentID string
	BestBid      float64
	BestAsk      float64
	Mid          float64
	Timestamp    time.Time
}

// Missing devuelve el primer campo requerido ausente, o "" si el quote está completo.
func (q Quote) Missing() string {
	switch {
	case q.BestBid <= 0:
		return "bid"
	case q.BestAsk <= 0:
		return "ask"
	case q.Mid <= 0:
		return "mid"
	case q.Timestamp.IsZero():
		return "timestamp"
	}
	return ""
}

// Complete indica si el quote tiene bid, ask, mid y timestamp.
func (q Quote) Complete() bool {
	return q.Missing() == ""
}

// Snapshot es la vista fusionada YES/NO que consume el motor en cada tick.
type Snapshot struct {
	Timestamp time.Time
	MidYes    float64
	MidNo     float64
	AskYes    float64
	AskNo     float64
	BidYes    float64
	BidNo     float64
}

// SameMids compara solo los mids: dos snapshots con mismos mids son el mismo tick.
func (s Snapshot) SameMids(o Snapshot) bool {
	return s.MidYes == o.MidYes && s.MidNo == o.MidNo
}

// Mid devuelve el mid del lado dado.
func (s Snapshot) Mid(l Leg) float64 {
	if l == LegNo {
		return s.MidNo
	}
	return s.MidYes
}

// Ask devuelve el best ask del lado dado.
func (s Snapshot) Ask(l Leg) float64 {
	if l == LegNo {
		return s.AskNo
	}
	return s.AskYes
}

// PriceSource elige qué precio del snapshot usa el motor para decidir.
type PriceSource string

const (
	PriceMid PriceSource = "mid"
	PriceAsk PriceSource = "ask"
)

// Price devuelve el precio del lado según la fuente configurada (mid por defecto).
func (s Snapshot) Price(l Leg, src PriceSource) float64 {
	if src == PriceAsk {
		return s.Ask(l)
	}
	return s.Mid(l)
}

// SnapshotFromPrices construye un snapshot desde una fila histórica (solo mids).
func SnapshotFromPrices(ts time.Time, priceYes, priceNo float64) Snapshot {
	return Snapshot{
		Timestamp: ts,
		MidYes:    priceYes,
		MidNo:     priceNo,
		AskYes:    priceYes,
		AskNo:     priceNo,
		BidYes:    priceYes,
		BidNo:     priceNo,
	}
}
