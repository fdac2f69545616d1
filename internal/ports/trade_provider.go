package ports

import (
	"context"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// PriceHistoryProvider devuelve la serie de precios de un token.
type PriceHistoryProvider interface {
	PriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]domain.PricePoint, error)
}

// HistoryProvider entrega los mercados históricos ordenados para el backtest.
type HistoryProvider interface {
	LoadMarkets(ctx context.Context) ([]domain.HistoricalMarket, error)
}
