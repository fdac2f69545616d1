package ports

import (
	"context"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// TradeExecutor ejecuta una orden aceptada por el motor y devuelve lo llenado.
// El engine aplica al ledger el Fill, no la Order.
type TradeExecutor interface {
	Execute(ctx context.Context, order domain.Order) (domain.Fill, error)
}

// PairMerger convierte pares YES+NO de una sesión bloqueada en colateral.
type PairMerger interface {
	MergePairs(ctx context.Context, s domain.Session, pairs float64) (domain.MergeResult, error)
}
