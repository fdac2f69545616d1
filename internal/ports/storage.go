package ports

import (
	"context"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// TradeSink recibe cada trade ejecutado para auditoría.
type TradeSink interface {
	RecordTrade(ctx context.Context, tr domain.TradeRecord) error
}

// ResultSink persiste el cierre de una sesión y los resultados del backtest.
type ResultSink interface {
	RecordSession(ctx context.Context, res domain.SessionResult) error
	RecordBacktest(ctx context.Context, summary domain.BacktestSummary) error
}

// AuditSink agrupa ambos contratos; lo implementan SQLite, Redis y el wrapper async.
type AuditSink interface {
	TradeSink
	ResultSink
}
