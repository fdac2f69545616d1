package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook es el libro de un token tal como lo devuelve el CLOB.
type OrderBook struct {
	TokenID   string
	Bids      []BookEntry // ordenados mayor a menor precio
	Asks      []BookEntry // ordenados menor a mayor precio
	Timestamp time.Time
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra. 0 si no hay bids.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta. 0 si no hay asks.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Quote convierte el top of book a un Quote publicable.
func (ob OrderBook) Quote() Quote {
	return Quote{
		InstrumentID: ob.TokenID,
		BestBid:      ob.BestBid(),
		BestAsk:      ob.BestAsk(),
		Mid:          ob.Midpoint(),
		Timestamp:    ob.Timestamp,
	}
}

// ParsePrice convierte un string de precio de la API a float64.
// Strings vacíos o inválidos devuelven 0.
func ParsePrice(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
