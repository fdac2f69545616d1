package live_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/application/engine"
	"github.com/alejandrodnm/polyhedge/internal/application/engine/live"
	"github.com/alejandrodnm/polyhedge/internal/application/quotes"
	"github.com/alejandrodnm/polyhedge/internal/application/session"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slotLen = 15 * time.Minute

var base = time.Unix(1731000600, 0).UTC()

// slotSessions devuelve una sesión distinta por slot. failFirst simula Gamma caído.
type slotSessions struct {
	mu        sync.Mutex
	calls     int
	failFirst int
}

func (s *slotSessions) ActiveSession(_ context.Context, at time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return domain.Session{}, errors.New("gamma unavailable")
	}
	start := domain.SlotStart(at, slotLen)
	slug := domain.SlotSlug("btc-updown-15m", start)
	return domain.Session{
		ID:    slug,
		Slug:  slug,
		YesID: slug + "-yes",
		NoID:  slug + "-no",
		Start: start,
		End:   start.Add(slotLen),
	}, nil
}

func (s *slotSessions) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type chanFeed struct {
	in chan domain.Quote

	mu   sync.Mutex
	subs [][]string
}

func newChanFeed() *chanFeed { return &chanFeed{in: make(chan domain.Quote, 64)} }

func (f *chanFeed) Run(ctx context.Context, out chan<- domain.Quote) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q := <-f.in:
			out <- q
		}
	}
}

func (f *chanFeed) Subscribe(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, append([]string(nil), ids...))
}

func (f *chanFeed) Subscriptions() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.subs...)
}

type memResults struct {
	mu       sync.Mutex
	sessions []domain.SessionResult
}

func (m *memResults) RecordSession(_ context.Context, res domain.SessionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, res)
	return nil
}

func (m *memResults) RecordBacktest(context.Context, domain.BacktestSummary) error { return nil }

func (m *memResults) Sessions() []domain.SessionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SessionResult(nil), m.sessions...)
}

// clock es un reloj manual: After dispara cuando Set alcanza el deadline.
type clock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if t.Before(w.at) {
			pending = append(pending, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = pending
}

func (c *clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

type fixture struct {
	runner   *live.Runner
	feed     *chanFeed
	sessions *slotSessions
	results  *memResults
	clock    *clock
	store    *quotes.Store
}

func newFixture(t *testing.T, cfg live.Config) *fixture {
	t.Helper()
	p, err := strategy.Preset("classic")
	require.NoError(t, err)
	h, err := strategy.NewHedge(p)
	require.NoError(t, err)

	ctrl := session.NewController(engine.New(h, domain.NewLedger(1000), engine.SimulatedExecutor{}, nil))
	f := &fixture{
		feed:     newChanFeed(),
		sessions: &slotSessions{},
		results:  &memResults{},
		clock:    &clock{},
		store:    quotes.NewStore(),
	}
	f.clock.Set(base.Add(time.Minute))
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 2 * time.Millisecond
	}
	if cfg.DiscoveryRetry == 0 {
		cfg.DiscoveryRetry = 2 * time.Millisecond
	}
	f.runner = live.New(f.sessions, f.feed, f.store, ctrl, f.results, nil, cfg).
		WithClock(f.clock.Now).
		WithTimer(f.clock.After)
	return f
}

func (f *fixture) start(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()
	return cancel, done
}

func quote(id string, price float64, at time.Time) domain.Quote {
	return domain.Quote{InstrumentID: id, BestBid: price - 0.01, BestAsk: price + 0.01, Mid: price, Timestamp: at}
}

func TestRunner_TradesOnFeedQuotes(t *testing.T) {
	f := newFixture(t, live.Config{})
	cancel, done := f.start(t)
	defer cancel()

	slug := domain.SlotSlug("btc-updown-15m", base)
	at := base.Add(time.Minute)
	f.feed.in <- quote(slug+"-yes", 0.35, at)
	f.feed.in <- quote(slug+"-no", 0.68, at)

	require.Eventually(t, func() bool {
		return f.runner.Status().Ledger.QtyYes > 0
	}, 2*time.Second, 5*time.Millisecond)

	st := f.runner.Status()
	assert.Equal(t, slug, st.Session.Slug)
	assert.Equal(t, domain.ActionYes, st.LastAction)
	assert.InDelta(t, 571.43, st.Ledger.QtyYes, 0.01)

	cancel()
	require.NoError(t, <-done)

	res := f.results.Sessions()
	require.Len(t, res, 1, "open session is recorded on shutdown")
	assert.Len(t, res[0].Trades, 1)
}

func TestRunner_IgnoresQuotesFromOtherInstruments(t *testing.T) {
	f := newFixture(t, live.Config{})
	cancel, done := f.start(t)
	defer cancel()

	at := base.Add(time.Minute)
	f.feed.in <- quote("stale-yes", 0.35, at)
	f.feed.in <- quote("stale-no", 0.60, at)

	// dar tiempo a varios ticks
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.runner.Status().Tick)

	cancel()
	<-done
}

func TestRunner_RollsOverAtSessionEnd(t *testing.T) {
	f := newFixture(t, live.Config{})
	cancel, done := f.start(t)
	defer cancel()

	first := domain.SlotSlug("btc-updown-15m", base)
	f.feed.in <- quote(first+"-yes", 0.35, base.Add(time.Minute))
	f.feed.in <- quote(first+"-no", 0.68, base.Add(time.Minute))
	require.Eventually(t, func() bool {
		return f.runner.Status().Ledger.QtyYes > 0
	}, 2*time.Second, 5*time.Millisecond)

	f.clock.Set(base.Add(slotLen + time.Second))

	second := domain.SlotSlug("btc-updown-15m", base.Add(slotLen))
	require.Eventually(t, func() bool {
		return f.runner.Status().Session.Slug == second
	}, 2*time.Second, 5*time.Millisecond)

	st := f.runner.Status()
	assert.Zero(t, st.Tick)
	assert.Zero(t, st.Ledger.QtyYes, "new session starts flat")

	res := f.results.Sessions()
	require.Len(t, res, 1)
	assert.Equal(t, first, res[0].Session.Slug)
	assert.Len(t, res[0].Trades, 1)

	require.Eventually(t, func() bool {
		return len(f.feed.Subscriptions()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{second + "-yes", second + "-no"}, f.feed.Subscriptions()[1])

	cancel()
	<-done
}

func TestRunner_IngestResubscribesAtSlotBoundary(t *testing.T) {
	// sin ticks de decisión: el cambio de feed lo hace solo la ingesta
	f := newFixture(t, live.Config{TickInterval: time.Hour})
	cancel, done := f.start(t)
	defer cancel()

	first := domain.SlotSlug("btc-updown-15m", base)
	second := domain.SlotSlug("btc-updown-15m", base.Add(slotLen))
	f.feed.in <- quote(first+"-yes", 0.35, base.Add(time.Minute))
	require.Eventually(t, func() bool { return f.store.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.clock.Set(base.Add(slotLen - time.Second))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.feed.Subscriptions(), 1, "no resubscribe before the boundary")

	f.clock.Set(base.Add(slotLen))
	require.Eventually(t, func() bool {
		return len(f.feed.Subscriptions()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{second + "-yes", second + "-no"}, f.feed.Subscriptions()[1])
	assert.Zero(t, f.store.Len(), "quotes of the finished session are dropped")

	// la ingesta ya filtra por los instrumentos nuevos
	f.feed.in <- quote(first+"-no", 0.60, base.Add(slotLen))
	f.feed.in <- quote(second+"-yes", 0.40, base.Add(slotLen))
	require.Eventually(t, func() bool {
		_, ok := f.store.Get(second + "-yes")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := f.store.Get(first + "-no")
	assert.False(t, ok)

	assert.Equal(t, first, f.runner.Status().Session.Slug, "ledger reset stays with the decision loop")
	assert.Empty(t, f.results.Sessions())

	cancel()
	require.NoError(t, <-done)
}

func TestRunner_RetriesDiscovery(t *testing.T) {
	f := newFixture(t, live.Config{})
	f.sessions.failFirst = 2
	cancel, done := f.start(t)
	defer cancel()

	require.Eventually(t, func() bool {
		return f.runner.Status().Active
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, f.sessions.Calls())

	cancel()
	<-done
}

func TestRunner_StopFile(t *testing.T) {
	stop := filepath.Join(t.TempDir(), "STOP")
	f := newFixture(t, live.Config{StopFile: stop})
	cancel, done := f.start(t)
	defer cancel()

	require.Eventually(t, func() bool { return f.runner.Status().Active }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, os.WriteFile(stop, nil, 0o644))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	_, err := os.Stat(stop)
	assert.True(t, os.IsNotExist(err), "stop file is consumed")
	assert.Len(t, f.results.Sessions(), 1)
}

type fakeMerger struct {
	mu    sync.Mutex
	calls []float64
	slugs []string
	err   error
}

func (m *fakeMerger) MergePairs(ctx context.Context, s domain.Session, pairs float64) (domain.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return domain.MergeResult{}, ctx.Err()
	}
	m.calls = append(m.calls, pairs)
	m.slugs = append(m.slugs, s.Slug)
	return domain.MergeResult{SessionID: s.ID, Pairs: pairs, TxHash: "0xabc", Confirmed: true}, m.err
}

func (m *fakeMerger) Calls() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.calls...)
}

func TestRunner_MergesLockedSession(t *testing.T) {
	f := newFixture(t, live.Config{})
	merger := &fakeMerger{}
	f.runner.WithMerger(merger)
	cancel, done := f.start(t)
	defer cancel()

	slug := domain.SlotSlug("btc-updown-15m", base)
	f.feed.in <- quote(slug+"-yes", 0.35, base.Add(time.Minute))
	f.feed.in <- quote(slug+"-no", 0.68, base.Add(time.Minute))
	require.Eventually(t, func() bool {
		return f.runner.Status().Ledger.QtyYes > 0
	}, 2*time.Second, 5*time.Millisecond)

	f.feed.in <- quote(slug+"-no", 0.40, base.Add(2*time.Minute))
	require.Eventually(t, func() bool {
		return f.runner.Status().Ledger.Locked
	}, 2*time.Second, 5*time.Millisecond)

	// el merge corre con su propio contexto aunque Run ya esté cancelado
	cancel()
	require.NoError(t, <-done)

	calls := merger.Calls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 571.43, calls[0], 0.01)
	assert.Equal(t, []string{slug}, merger.slugs)
}

func TestRunner_NoMergeWhenOpen(t *testing.T) {
	f := newFixture(t, live.Config{})
	merger := &fakeMerger{}
	f.runner.WithMerger(merger)
	cancel, done := f.start(t)

	slug := domain.SlotSlug("btc-updown-15m", base)
	f.feed.in <- quote(slug+"-yes", 0.35, base.Add(time.Minute))
	f.feed.in <- quote(slug+"-no", 0.68, base.Add(time.Minute))
	require.Eventually(t, func() bool {
		return f.runner.Status().Ledger.QtyYes > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, merger.Calls(), "single-sided session has nothing to merge")
}
