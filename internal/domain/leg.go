package domain

// Leg identifica uno de los dos lados de un mercado binario.
type Leg int

const (
	LegYes Leg = iota
	LegNo
)

// Legs devuelve los lados en el orden de evaluación (YES primero).
func Legs() [2]Leg {
	return [2]Leg{LegYes, LegNo}
}

func (l Leg) String() string {
	if l == LegNo {
		return "NO"
	}
	return "YES"
}

// Opposite devuelve el otro lado del par.
func (l Leg) Opposite() Leg {
	if l == LegYes {
		return LegNo
	}
	return LegYes
}

// Action es el resultado de una evaluación del motor en un tick.
type Action string

const (
	ActionHold    Action = "HOLD"
	ActionYes     Action = "YES"
	ActionNo      Action = "NO"
	ActionSafeYes Action = "SAFE_YES"
	ActionSafeNo  Action = "SAFE_NO"
	ActionLocked  Action = "LOCKED"
)

// BuyAction devuelve la acción de compra normal para el lado dado.
func BuyAction(l Leg) Action {
	if l == LegNo {
		return ActionNo
	}
	return ActionYes
}

// SafeAction devuelve la acción de cobertura forzada para el lado dado.
func SafeAction(l Leg) Action {
	if l == LegNo {
		return ActionSafeNo
	}
	return ActionSafeYes
}

// IsTrade indica si la acción implicó una compra.
func (a Action) IsTrade() bool {
	switch a {
	case ActionYes, ActionNo, ActionSafeYes, ActionSafeNo:
		return true
	}
	return false
}

// IsSafety indica si la acción es una cobertura forzada.
func (a Action) IsSafety() bool {
	return a == ActionSafeYes || a == ActionSafeNo
}
