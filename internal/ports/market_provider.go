package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// SessionProvider descubre la sesión (par YES/NO) activa en un instante.
type SessionProvider interface {
	// ActiveSession devuelve la sesión cuyo slot contiene at.
	ActiveSession(ctx context.Context, at time.Time) (domain.Session, error)
}

// MarketLister lista mercados cerrados para la descarga de históricos.
type MarketLister interface {
	ClosedMarkets(ctx context.Context, tagID, maxPages int) ([]domain.Market, error)
}
