package ports

import (
	"context"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// BookProvider obtiene el top of book del CLOB para un conjunto de tokens.
type BookProvider interface {
	// FetchOrderBooks devuelve los orderbooks para los token_ids dados.
	// Internamente agrupa los IDs en batches para minimizar requests.
	FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error)
}

// MidpointProvider obtiene el midpoint publicado por el CLOB para un token.
type MidpointProvider interface {
	Midpoint(ctx context.Context, tokenID string) (float64, error)
}
