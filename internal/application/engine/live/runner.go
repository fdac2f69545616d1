// Package live runs the hedger against a real-time quote feed, rotating to the
// next session when the current window ends.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/application/quotes"
	"github.com/alejandrodnm/polyhedge/internal/application/session"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/metrics"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const (
	defaultTickInterval   = 500 * time.Millisecond
	defaultDiscoveryRetry = 5 * time.Second
	quoteBuffer           = 256
	mergeTimeout          = 3 * time.Minute
)

// Config holds the live runner timing settings.
type Config struct {
	TickInterval   time.Duration
	DiscoveryRetry time.Duration
	// StopFile, si existe, detiene el runner en el siguiente tick.
	StopFile string
}

// Runner wires feed → store → fuser → controller.
//
// Two goroutines run concurrently: ingest writes quotes into the store and
// resubscribes the feed at each slot boundary; the decision loop reads
// snapshots from the store on a fixed cadence and resets the ledger when the
// session ends. Neither signals the other; the store is the only shared state.
type Runner struct {
	sessions ports.SessionProvider
	feed     ports.QuoteFeed
	store    *quotes.Store
	fuser    *quotes.Fuser
	ctrl     *session.Controller
	results  ports.ResultSink
	reporter ports.Reporter
	merger   ports.PairMerger
	cfg      Config
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	merges sync.WaitGroup
}

// New creates a live runner. results and reporter may be nil.
func New(
	sessions ports.SessionProvider,
	feed ports.QuoteFeed,
	store *quotes.Store,
	ctrl *session.Controller,
	results ports.ResultSink,
	reporter ports.Reporter,
	cfg Config,
) *Runner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.DiscoveryRetry <= 0 {
		cfg.DiscoveryRetry = defaultDiscoveryRetry
	}
	return &Runner{
		sessions: sessions,
		feed:     feed,
		store:    store,
		fuser:    quotes.NewFuser(store),
		ctrl:     ctrl,
		results:  results,
		reporter: reporter,
		cfg:      cfg,
		now:      time.Now,
		after:    time.After,
	}
}

// WithClock replaces the wall clock. Used by tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// WithTimer replaces the rollover timer. Used by tests together with WithClock.
func (r *Runner) WithTimer(after func(time.Duration) <-chan time.Time) *Runner {
	r.after = after
	return r
}

// WithMerger activa el merge on-chain de los pares de cada sesión que cierra bloqueada.
func (r *Runner) WithMerger(m ports.PairMerger) *Runner {
	r.merger = m
	return r
}

// Status exposes the controller status for the HTTP server.
func (r *Runner) Status() session.Status {
	return r.ctrl.Status()
}

// Run blocks until ctx is cancelled or the stop file appears.
// The open session is closed and reported before returning.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := r.discover(ctx, r.now())
	if err != nil {
		return fmt.Errorf("live.Run: discover first session: %w", err)
	}
	r.store.Retain(first.YesID, first.NoID)
	r.feed.Subscribe(first.InstrumentIDs())
	r.ctrl.Begin(first)

	quotesCh := make(chan domain.Quote, quoteBuffer)
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := r.feed.Run(ctx, quotesCh); err != nil && ctx.Err() == nil {
			slog.Error("live: feed stopped", "err", err)
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		r.ingest(ctx, quotesCh, first)
	}()

	go func() {
		defer wg.Done()
		r.decide(ctx, cancel)
	}()

	wg.Wait()

	if r.ctrl.Active() {
		// ctx ya está cancelado; el cierre se persiste con un contexto propio.
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		r.close(closeCtx, r.now())
	}
	r.merges.Wait()
	slog.Info("live: runner stopped")
	return nil
}

// ingest writes quotes of the current instruments into the store. At each slot
// boundary it discovers the next session and, when the instruments change,
// resubscribes the feed and drops the old quotes.
func (r *Runner) ingest(ctx context.Context, in <-chan domain.Quote, cur domain.Session) {
	tracked := instruments(cur)
	boundary := nextBoundary(cur, r.now())
	timer := r.after(boundary.Sub(r.now()))

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-in:
			if _, ok := tracked[q.InstrumentID]; !ok {
				continue
			}
			r.store.Put(q)
		case <-timer:
			now := r.now()
			if now.Before(boundary) {
				timer = r.after(boundary.Sub(now))
				continue
			}
			next, err := r.discover(ctx, now)
			if err != nil {
				return
			}
			if !next.Contains(now) {
				// Gamma todavía sirve el slot anterior
				slog.Warn("live: discovered session does not cover the boundary, retrying",
					"slug", next.Slug, "at", now.UTC().Format(time.RFC3339))
				timer = time.After(r.cfg.DiscoveryRetry)
				continue
			}
			if !next.SameInstruments(cur) {
				tracked = instruments(next)
				r.store.Retain(next.YesID, next.NoID)
				r.feed.Subscribe(next.InstrumentIDs())
				slog.Info("live: feed resubscribed", "slug", next.Slug)
			}
			cur = next
			boundary = nextBoundary(cur, now)
			timer = r.after(boundary.Sub(now))
		}
	}
}

// decide runs one evaluation per tick.
func (r *Runner) decide(ctx context.Context, stop context.CancelFunc) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if r.stopRequested() {
			slog.Info("live: stop file detected, shutting down", "file", r.cfg.StopFile)
			stop()
			return
		}

		now := r.now()
		if !now.Before(r.ctrl.Session().End) {
			if err := r.rollover(ctx, now); err != nil {
				return
			}
			continue
		}

		cur := r.ctrl.Session()
		snap, err := r.fuser.Snapshot(cur.YesID, cur.NoID)
		if err != nil {
			var gap *domain.DataGapError
			if errors.As(err, &gap) {
				metrics.DataGaps.Inc()
				slog.Debug("live: data gap, skipping tick", "instrument", gap.InstrumentID, "reason", gap.Reason)
				continue
			}
			slog.Warn("live: snapshot failed", "err", err)
			continue
		}
		r.ctrl.OnSnapshot(ctx, snap)
	}
}

// rollover closes the finished session and begins the next one in the
// controller. Feed and store are handled by ingest.
// Returns an error only when ctx ends while discovering.
func (r *Runner) rollover(ctx context.Context, now time.Time) error {
	r.close(ctx, now)

	next, err := r.discover(ctx, now)
	if err != nil {
		return err
	}
	r.ctrl.Begin(next)
	return nil
}

func (r *Runner) close(ctx context.Context, at time.Time) {
	res := r.ctrl.End(at)
	if r.results != nil {
		if err := r.results.RecordSession(ctx, res); err != nil {
			slog.Warn("live: record session failed", "slug", res.Session.Slug, "err", err)
		}
	}
	if r.reporter != nil {
		r.reporter.SessionClosed(res)
	}
	if r.merger != nil && res.Ledger.Locked {
		r.merge(ctx, res)
	}
}

// merge corre fuera del loop de decisión: una transacción tarda varios bloques
// y la siguiente sesión ya está abriendo.
func (r *Runner) merge(ctx context.Context, res domain.SessionResult) {
	pairs := domain.MergeablePairs(res.Ledger)
	if pairs <= 0 {
		return
	}
	r.merges.Add(1)
	go func() {
		defer r.merges.Done()
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mergeTimeout)
		defer cancel()

		out, err := r.merger.MergePairs(mctx, res.Session, pairs)
		switch {
		case err != nil:
			metrics.MergesTotal.WithLabelValues("failed").Inc()
			slog.Error("live: merge failed", "slug", res.Session.Slug, "pairs", pairs, "err", err)
		case !out.Confirmed:
			metrics.MergesTotal.WithLabelValues("unconfirmed").Inc()
			slog.Warn("live: merge sent but not confirmed", "slug", res.Session.Slug, "tx", out.TxHash)
		default:
			metrics.MergesTotal.WithLabelValues("confirmed").Inc()
			slog.Info("live: pairs merged",
				"slug", res.Session.Slug,
				"pairs", pairs,
				"tx", out.TxHash,
				"gas_pol", fmt.Sprintf("%.6f", out.GasCostPOL),
			)
		}
	}()
}

// discover retries until a session is available or ctx ends.
func (r *Runner) discover(ctx context.Context, at time.Time) (domain.Session, error) {
	for {
		s, err := r.sessions.ActiveSession(ctx, at)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return domain.Session{}, ctx.Err()
		}
		slog.Warn("live: session discovery failed, retrying",
			"at", at.UTC().Format(time.RFC3339),
			"retry_in", r.cfg.DiscoveryRetry,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		case <-time.After(r.cfg.DiscoveryRetry):
		}
		at = r.now()
	}
}

func instruments(s domain.Session) map[string]struct{} {
	return map[string]struct{}{s.YesID: {}, s.NoID: {}}
}

// nextBoundary devuelve el próximo inicio de slot tras now para la duración de s.
func nextBoundary(s domain.Session, now time.Time) time.Time {
	length := s.End.Sub(s.Start)
	if length <= 0 {
		return s.End
	}
	return domain.NextSlot(now, length)
}

func (r *Runner) stopRequested() bool {
	if r.cfg.StopFile == "" {
		return false
	}
	if _, err := os.Stat(r.cfg.StopFile); err != nil {
		return false
	}
	_ = os.Remove(r.cfg.StopFile)
	return true
}
