package strategy

// hedge.go: estrategia de cobertura de par.
//
// Compra ambos lados de un mercado binario de forma incremental hasta que
// min(qtyYES, qtyNO) supera el coste total: a partir de ahí el payout está
// garantizado gane quien gane y el engine bloquea la sesión.

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Hedge implementa Strategy. No tiene estado propio: todo vive en el ledger
// y en el Input del tick, así que es segura para reusar entre sesiones.
type Hedge struct {
	p Params
}

// NewHedge valida los parámetros y crea la estrategia.
func NewHedge(p Params) (*Hedge, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Hedge{p: p}, nil
}

func (h *Hedge) Name() string { return "hedge" }

// Params devuelve los parámetros activos.
func (h *Hedge) Params() Params { return h.p }

// Evaluate aplica la política por tick:
//  1. bloqueada → LOCKED
//  2. guaranteed profit > 0 → LOCKED
//  3. por lado (YES primero): banda de entrada, gate de un solo lado, sizing,
//     notional mínimo y regla de aceptación sobre el pair cost simulado
//  4. gana el menor pair cost candidato; sin candidato, cobertura forzada
func (h *Hedge) Evaluate(pos Position, in Input) Proposal {
	if pos.Locked() {
		return Proposal{Action: domain.ActionLocked, Reason: "locked"}
	}
	if gp := pos.GuaranteedProfit(); gp > 0 {
		return Proposal{Action: domain.ActionLocked, Reason: fmt.Sprintf("guaranteed profit %.4f", gp)}
	}
	if in.Progress < h.p.MinEntryProgress {
		return hold("before entry window")
	}

	capital := pos.Capital()
	cashCap := capital * h.p.MaxOrderFraction
	current := pos.PairCost()
	bothHeld := pos.Qty(domain.LegYes) > 0 && pos.Qty(domain.LegNo) > 0

	var best Proposal
	found := false
	for _, leg := range domain.Legs() {
		price := in.Snapshot.Price(leg, h.p.PriceSource)
		if price <= 0 || capital < h.p.MinOrderValue {
			continue
		}
		if pos.Empty() && (price > h.p.EntryThreshold || price < h.p.EntryFloor) {
			continue
		}
		if held, ok := pos.OneSided(); ok && held == leg {
			continue
		}

		qty := math.Max(cashCap/price, pos.Imbalance(leg))
		qty = math.Min(qty, capital/price)
		if qty*price < h.p.MinOrderValue {
			continue
		}

		candidate := pos.SimulatePairCost(leg, qty, price)
		if bothHeld {
			if candidate >= current {
				continue
			}
		} else if candidate >= h.p.TargetPairCost {
			continue
		}

		// Empate: se queda YES por ser evaluado primero.
		if !found || candidate < best.PairCostAfter {
			best = Proposal{
				Action:        domain.BuyAction(leg),
				Leg:           leg,
				Qty:           qty,
				Price:         price,
				PairCostAfter: candidate,
				Reason:        "pair cost improves",
			}
			found = true
		}
	}
	if found {
		return best
	}

	if p, ok := h.safety(pos, in); ok {
		return p
	}
	return hold("no leg accepted")
}

// safety es la salida de emergencia: pasado el punto de la sesión configurado,
// con un solo lado comprado y la tendencia en contra, cubre el lado opuesto
// por el mismo coste ya pagado. El engine bloquea siempre después.
func (h *Hedge) safety(pos Position, in Input) (Proposal, bool) {
	if !h.p.SafetyEnabled || in.Tick < 1 || in.Progress <= h.p.SafetyProgress {
		return Proposal{}, false
	}
	held, ok := pos.OneSided()
	if !ok {
		return Proposal{}, false
	}

	// trend > 0: YES ha cotizado por encima de NO de forma sostenida.
	bias := in.Trend / float64(in.Tick)
	against := (held == domain.LegYes && bias < -h.p.SafetyTrendBias) ||
		(held == domain.LegNo && bias > h.p.SafetyTrendBias)
	if !against {
		return Proposal{}, false
	}

	opp := held.Opposite()
	price := in.Snapshot.Price(opp, h.p.PriceSource)
	if price <= 0 {
		return Proposal{}, false
	}
	qty := pos.Qty(held) * pos.Avg(held) / price
	qty = math.Min(qty, pos.Capital()/price)
	if qty <= 0 {
		return Proposal{}, false
	}

	return Proposal{
		Action:        domain.SafeAction(opp),
		Leg:           opp,
		Qty:           qty,
		Price:         price,
		PairCostAfter: pos.SimulatePairCost(opp, qty, price),
		Reason:        fmt.Sprintf("trend %.4f against %s", bias, held),
	}, true
}
