package domain

// Order es la instrucción de compra que el motor entrega al ejecutor.
type Order struct {
	SessionID    string
	InstrumentID string
	Leg          Leg
	Action       Action
	Qty          float64 // contratos
	Price        float64 // precio límite por contrato
	NegRisk      bool
}

// Notional es qty × price en USDC.
func (o Order) Notional() float64 {
	return o.Qty * o.Price
}

// Fill es lo que realmente se ejecutó. Es lo que se aplica al ledger.
type Fill struct {
	OrderID string
	Qty     float64
	Price   float64
	Status  string
}
