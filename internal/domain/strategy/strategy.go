package strategy

import (
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Position es la vista de solo lectura del ledger que necesita una estrategia.
// *domain.Ledger la implementa.
type Position interface {
	Qty(leg domain.Leg) float64
	Avg(leg domain.Leg) float64
	Capital() float64
	PairCost() float64
	GuaranteedProfit() float64
	Imbalance(leg domain.Leg) float64
	SimulatePairCost(leg domain.Leg, qty, price float64) float64
	Empty() bool
	OneSided() (domain.Leg, bool)
	Locked() bool
}

// Input es todo lo que una estrategia ve en un tick además de la posición.
type Input struct {
	Snapshot domain.Snapshot
	Tick     int     // ticks procesados en la sesión, empezando en 1
	Trend    float64 // suma acumulada de (precio YES - precio NO)
	Progress float64 // fracción transcurrida de la sesión, [0, 1]
}

// Proposal es lo que la estrategia quiere hacer. No muta nada:
// el engine decide si ejecuta y aplica.
type Proposal struct {
	Action        domain.Action
	Leg           domain.Leg
	Qty           float64
	Price         float64
	PairCostAfter float64
	Reason        string
}

// Strategy define el contrato de una política de decisión por tick.
type Strategy interface {
	Name() string
	// Evaluate devuelve la acción propuesta. Debe ser total: cualquier entrada
	// produce una Proposal (HOLD en el peor caso), nunca un error.
	Evaluate(pos Position, in Input) Proposal
}

func hold(reason string) Proposal {
	return Proposal{Action: domain.ActionHold, Reason: reason}
}
