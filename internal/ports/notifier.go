package ports

import "github.com/alejandrodnm/polyhedge/internal/domain"

// Reporter presenta resultados al usuario.
type Reporter interface {
	// SessionClosed muestra el resumen de una sesión live al rotar.
	SessionClosed(res domain.SessionResult)
	// Backtest muestra el resumen del backtest compuesto.
	Backtest(summary domain.BacktestSummary)
}
