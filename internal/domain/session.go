package domain

import (
	"fmt"
	"time"
)

// Session es una ventana de trading de duración fija ligada a un par YES/NO.
type Session struct {
	ID       string    `json:"id"`
	Slug     string    `json:"slug"`
	Question string    `json:"question,omitempty"`
	YesID    string    `json:"yes_id"`
	NoID     string    `json:"no_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`

	// ConditionID y NegRisk identifican el mercado on-chain (merge de pares).
	ConditionID string `json:"condition_id,omitempty"`
	NegRisk     bool   `json:"neg_risk,omitempty"`
}

// Duration devuelve la longitud de la ventana.
func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Progress es la fracción transcurrida de la sesión en t, acotada a [0, 1].
func (s Session) Progress(t time.Time) float64 {
	d := s.Duration()
	if d <= 0 {
		return 0
	}
	p := float64(t.Sub(s.Start)) / float64(d)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Contains indica si t cae dentro de [Start, End).
func (s Session) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// SameInstruments compara los IDs de ambos lados.
func (s Session) SameInstruments(o Session) bool {
	return s.YesID == o.YesID && s.NoID == o.NoID
}

// InstrumentIDs devuelve {YES, NO}.
func (s Session) InstrumentIDs() []string {
	return []string{s.YesID, s.NoID}
}

// SlotStart redondea t hacia abajo al múltiplo de d (en tiempo Unix, UTC).
func SlotStart(t time.Time, d time.Duration) time.Time {
	sec := int64(d / time.Second)
	if sec <= 0 {
		return t.UTC()
	}
	unix := t.Unix()
	return time.Unix(unix-unix%sec, 0).UTC()
}

// NextSlot devuelve el inicio del slot siguiente a t.
func NextSlot(t time.Time, d time.Duration) time.Time {
	return SlotStart(t, d).Add(d)
}

// SlotSlug construye el slug de Polymarket para un slot, e.g. "btc-updown-15m-1731000000".
func SlotSlug(prefix string, slot time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, slot.Unix())
}

// SessionResult es el cierre de una sesión live: ledger final y trades.
type SessionResult struct {
	Session  Session       `json:"session"`
	ClosedAt time.Time     `json:"closed_at"`
	Ticks    int           `json:"ticks"`
	Ledger   LedgerState   `json:"ledger"`
	Trades   []TradeRecord `json:"trades"`
}
