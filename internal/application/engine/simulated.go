package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// SimulatedExecutor llena cada orden completa al precio pedido.
// Se usa en backtest y en live con dry-run.
type SimulatedExecutor struct{}

// Execute implementa ports.TradeExecutor.
func (SimulatedExecutor) Execute(ctx context.Context, order domain.Order) (domain.Fill, error) {
	if err := ctx.Err(); err != nil {
		return domain.Fill{}, err
	}
	return domain.Fill{
		OrderID: "sim-" + uuid.NewString(),
		Qty:     order.Qty,
		Price:   order.Price,
		Status:  "simulated",
	}, nil
}
