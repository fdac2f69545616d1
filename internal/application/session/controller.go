// Package session owns the lifecycle of one trading window: it resets state on
// rollover, keeps the tick counter and trend accumulator, and feeds snapshots
// to the engine. It holds no trading logic.
package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/application/engine"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
	"github.com/alejandrodnm/polyhedge/internal/metrics"
)

// Status is an immutable view of the controller, safe to read from any goroutine.
type Status struct {
	Session    domain.Session     `json:"session"`
	Active     bool               `json:"active"`
	Tick       int                `json:"tick"`
	Trend      float64            `json:"trend"`
	Progress   float64            `json:"progress"`
	LastAction domain.Action      `json:"last_action"`
	Snapshot   domain.Snapshot    `json:"snapshot"`
	Ledger     domain.LedgerState `json:"ledger"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Controller drives the engine for the active session.
// All methods except Status must be called from a single goroutine.
type Controller struct {
	engine *engine.Engine

	session domain.Session
	active  bool
	tick    int
	trend   float64
	last    domain.Snapshot
	hasLast bool
	action  domain.Action

	status atomic.Pointer[Status]
}

// NewController wraps an engine. The engine's ledger is reset on every Begin.
func NewController(e *engine.Engine) *Controller {
	c := &Controller{engine: e, action: domain.ActionHold}
	c.publish(time.Time{}, 0)
	return c
}

// Begin starts a new session: resets the ledger, trend and tick counter and
// rebinds the instrument IDs.
func (c *Controller) Begin(s domain.Session) {
	c.BeginWithCapital(s, c.engine.Ledger().InitialCapital())
}

// BeginWithCapital is Begin with a new initial capital (compounding backtest).
func (c *Controller) BeginWithCapital(s domain.Session, capital float64) {
	c.engine.Ledger().ResetWithCapital(capital)
	c.engine.Bind(s)
	c.session = s
	c.active = true
	c.tick = 0
	c.trend = 0
	c.hasLast = false
	c.last = domain.Snapshot{}
	c.action = domain.ActionHold
	metrics.SessionsTotal.Inc()

	slog.Info("session: begin",
		"id", s.ID,
		"slug", s.Slug,
		"start", s.Start.Format(time.RFC3339),
		"end", s.End.Format(time.RFC3339),
		"capital", capital,
	)
	c.publish(s.Start, 0)
}

// End closes the active session and returns its result. Trades already applied
// stay in this session; nothing carries over to the next one.
func (c *Controller) End(at time.Time) domain.SessionResult {
	l := c.engine.Ledger()
	res := domain.SessionResult{
		Session:  c.session,
		ClosedAt: at,
		Ticks:    c.tick,
		Ledger:   l.State(),
		Trades:   l.Trades(),
	}
	c.active = false
	c.publish(at, c.session.Progress(at))

	slog.Info("session: end",
		"slug", c.session.Slug,
		"ticks", c.tick,
		"trades", len(res.Trades),
		"locked", res.Ledger.Locked,
		"pair_cost", res.Ledger.PairCost,
		"guaranteed_profit", res.Ledger.GuaranteedProfit,
	)
	return res
}

// Session returns the active (or last) session.
func (c *Controller) Session() domain.Session { return c.session }

// Active reports whether a session is open.
func (c *Controller) Active() bool { return c.active }

// Ticks returns the number of snapshots processed in the session.
func (c *Controller) Ticks() int { return c.tick }

// OnSnapshot drives the engine with a live snapshot. Snapshots whose mids
// equal the previous one are skipped; ok is false in that case.
func (c *Controller) OnSnapshot(ctx context.Context, snap domain.Snapshot) (engine.Decision, bool) {
	if !c.active {
		return engine.Decision{Action: domain.ActionHold, Reason: "no active session"}, false
	}
	if c.hasLast && snap.SameMids(c.last) {
		metrics.DuplicateSnapshots.Inc()
		return engine.Decision{Action: c.action, Reason: "unchanged mids"}, false
	}
	return c.step(ctx, snap), true
}

// OnRow drives the engine with one historical row. Every row is a tick.
func (c *Controller) OnRow(ctx context.Context, row domain.PriceRow) engine.Decision {
	if !c.active {
		return engine.Decision{Action: domain.ActionHold, Reason: "no active session"}
	}
	return c.step(ctx, domain.SnapshotFromPrices(row.Timestamp, row.PriceYes, row.PriceNo))
}

func (c *Controller) step(ctx context.Context, snap domain.Snapshot) engine.Decision {
	c.last = snap
	c.hasLast = true
	c.tick++
	c.trend += snap.MidYes - snap.MidNo

	// El progreso sale del timestamp del snapshot, no del reloj: el backtest
	// reproduce exactamente las mismas decisiones.
	progress := c.session.Progress(snap.Timestamp)
	d := c.engine.Step(ctx, strategy.Input{
		Snapshot: snap,
		Tick:     c.tick,
		Trend:    c.trend,
		Progress: progress,
	})
	c.action = d.Action

	if d.Action.IsTrade() || d.Action == domain.ActionLocked {
		slog.Debug("session: tick",
			"slug", c.session.Slug, "tick", c.tick, "action", d.Action,
			"mid_yes", snap.MidYes, "mid_no", snap.MidNo, "trend", c.trend, "progress", progress)
	}
	c.publish(snap.Timestamp, progress)
	return d
}

// Status returns the latest published status.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

func (c *Controller) publish(at time.Time, progress float64) {
	st := c.engine.Ledger().State()
	c.status.Store(&Status{
		Session:    c.session,
		Active:     c.active,
		Tick:       c.tick,
		Trend:      c.trend,
		Progress:   progress,
		LastAction: c.action,
		Snapshot:   c.last,
		Ledger:     st,
		UpdatedAt:  at,
	})
	metrics.PairCost.Set(st.PairCost)
	metrics.GuaranteedProfit.Set(st.GuaranteedProfit)
	metrics.Capital.Set(st.Capital)
	metrics.Locked.Set(metrics.BoolGauge(st.Locked))
}
