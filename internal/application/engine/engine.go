package engine

// engine.go: máquina de estados OPEN → LOCKED.
//
// La estrategia solo propone. El engine es quien ejecuta, aplica el fill al
// ledger, registra el trade y decide el bloqueo, antes y después de ejecutar.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
	"github.com/alejandrodnm/polyhedge/internal/metrics"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// Decision es la salida de un tick.
type Decision struct {
	Action        domain.Action
	Qty           float64
	Price         float64
	PairCostAfter float64
	Reason        string
}

// Engine conduce una estrategia sobre el ledger de la sesión activa.
// No es seguro para uso concurrente: lo usa solo el decision loop.
type Engine struct {
	strategy strategy.Strategy
	ledger   *domain.Ledger
	executor ports.TradeExecutor
	sink     ports.TradeSink
	session  domain.Session
}

// New crea un engine. sink puede ser nil.
func New(strat strategy.Strategy, ledger *domain.Ledger, executor ports.TradeExecutor, sink ports.TradeSink) *Engine {
	return &Engine{
		strategy: strat,
		ledger:   ledger,
		executor: executor,
		sink:     sink,
	}
}

// Bind asocia la sesión cuyos instrumentos recibirán las órdenes.
func (e *Engine) Bind(s domain.Session) {
	e.session = s
}

// Ledger devuelve el ledger que conduce el engine.
func (e *Engine) Ledger() *domain.Ledger { return e.ledger }

// Step evalúa un tick. Nunca devuelve error: cualquier rechazo acaba en HOLD.
func (e *Engine) Step(ctx context.Context, in strategy.Input) Decision {
	p := e.strategy.Evaluate(e.ledger, in)

	switch p.Action {
	case domain.ActionLocked:
		if !e.ledger.Locked() {
			e.ledger.Lock()
			slog.Info("engine: session locked",
				"slug", e.session.Slug,
				"tick", in.Tick,
				"guaranteed_profit", fmt.Sprintf("$%.4f", e.ledger.GuaranteedProfit()),
				"pair_cost", fmt.Sprintf("%.4f", e.ledger.PairCost()),
			)
		}
		return e.decided(Decision{Action: domain.ActionLocked, PairCostAfter: e.ledger.PairCost(), Reason: p.Reason})
	case domain.ActionHold:
		return e.decided(Decision{Action: domain.ActionHold, PairCostAfter: e.ledger.PairCost(), Reason: p.Reason})
	}

	fill, err := e.execute(ctx, p)
	if err != nil {
		metrics.ExecutionErrors.Inc()
		slog.Warn("engine: execution failed, holding",
			"slug", e.session.Slug, "action", p.Action, "qty", p.Qty, "price", p.Price, "err", err)
		return e.decided(Decision{Action: domain.ActionHold, PairCostAfter: e.ledger.PairCost(), Reason: "execution failed"})
	}

	if err := e.ledger.Apply(p.Leg, fill.Qty, fill.Price); err != nil {
		var capErr *domain.InsufficientCapitalError
		if errors.As(err, &capErr) {
			slog.Warn("engine: fill exceeds capital, holding",
				"slug", e.session.Slug, "required", capErr.Required, "available", capErr.Available)
		} else {
			slog.Warn("engine: apply rejected", "slug", e.session.Slug, "err", err)
		}
		return e.decided(Decision{Action: domain.ActionHold, PairCostAfter: e.ledger.PairCost(), Reason: "apply rejected"})
	}

	rec := domain.TradeRecord{
		SessionID:        e.session.ID,
		Slug:             e.session.Slug,
		Tick:             in.Tick,
		Timestamp:        in.Snapshot.Timestamp,
		Action:           p.Action,
		Price:            fill.Price,
		Qty:              fill.Qty,
		PairCostAfter:    e.ledger.PairCost(),
		CapitalLeft:      e.ledger.Capital(),
		GuaranteedProfit: e.ledger.GuaranteedProfit(),
		BalanceRatio:     e.ledger.BalanceRatio(),
	}.Rounded()
	e.ledger.Record(rec)
	e.audit(ctx, rec)

	metrics.TradesTotal.WithLabelValues(string(p.Action)).Inc()
	metrics.TradeNotional.WithLabelValues(p.Leg.String()).Add(fill.Qty * fill.Price)

	slog.Info("engine: trade executed",
		"slug", e.session.Slug,
		"tick", in.Tick,
		"action", p.Action,
		"qty", fmt.Sprintf("%.2f", fill.Qty),
		"price", fmt.Sprintf("%.5f", fill.Price),
		"pair_cost", fmt.Sprintf("%.4f", rec.PairCostAfter),
		"capital", fmt.Sprintf("$%.2f", rec.CapitalLeft),
		"reason", p.Reason,
	)

	// Re-check tras ejecutar. La cobertura forzada bloquea siempre.
	if p.Action.IsSafety() || e.ledger.GuaranteedProfit() > 0 {
		e.ledger.Lock()
		slog.Info("engine: session locked",
			"slug", e.session.Slug,
			"tick", in.Tick,
			"forced", p.Action.IsSafety(),
			"guaranteed_profit", fmt.Sprintf("$%.4f", e.ledger.GuaranteedProfit()),
		)
	}

	return e.decided(Decision{
		Action:        p.Action,
		Qty:           fill.Qty,
		Price:         fill.Price,
		PairCostAfter: e.ledger.PairCost(),
		Reason:        p.Reason,
	})
}

func (e *Engine) execute(ctx context.Context, p strategy.Proposal) (domain.Fill, error) {
	order := domain.Order{
		SessionID:    e.session.ID,
		InstrumentID: e.instrument(p.Leg),
		Leg:          p.Leg,
		Action:       p.Action,
		Qty:          p.Qty,
		Price:        p.Price,
	}
	start := time.Now()
	fill, err := e.executor.Execute(ctx, order)
	metrics.ObserveSince(metrics.ExecutionLatency, start)
	if err != nil {
		return domain.Fill{}, err
	}
	if fill.Qty <= 0 || fill.Price <= 0 {
		return domain.Fill{}, fmt.Errorf("engine.execute: empty fill for %s (status %q)", p.Action, fill.Status)
	}
	return fill, nil
}

func (e *Engine) instrument(leg domain.Leg) string {
	if leg == domain.LegNo {
		return e.session.NoID
	}
	return e.session.YesID
}

// audit entrega el registro al sink. El sink de producción es asíncrono,
// así que esto no bloquea el tick; un error solo se loguea.
func (e *Engine) audit(ctx context.Context, rec domain.TradeRecord) {
	if e.sink == nil {
		return
	}
	if err := e.sink.RecordTrade(ctx, rec); err != nil {
		slog.Warn("engine: audit sink error", "slug", rec.Slug, "err", err)
	}
}

func (e *Engine) decided(d Decision) Decision {
	metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	return d
}
