package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/metrics"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const (
	defaultAuditBuffer  = 1024
	defaultWriteTimeout = 5 * time.Second
)

// AsyncSink desacopla la auditoría del loop de decisión: los Record* encolan
// y vuelven al instante. Si el buffer está lleno el registro se descarta y se
// cuenta en hedger_audit_dropped_total.
type AsyncSink struct {
	next    ports.AuditSink
	timeout time.Duration

	queue chan func(context.Context) error
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink arranca el writer. buffer <= 0 usa 1024.
func NewAsyncSink(next ports.AuditSink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = defaultAuditBuffer
	}
	s := &AsyncSink{
		next:    next,
		timeout: defaultWriteTimeout,
		queue:   make(chan func(context.Context) error, buffer),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *AsyncSink) RecordTrade(_ context.Context, tr domain.TradeRecord) error {
	return s.enqueue("trade", func(ctx context.Context) error { return s.next.RecordTrade(ctx, tr) })
}

func (s *AsyncSink) RecordSession(_ context.Context, res domain.SessionResult) error {
	return s.enqueue("session", func(ctx context.Context) error { return s.next.RecordSession(ctx, res) })
}

func (s *AsyncSink) RecordBacktest(_ context.Context, sum domain.BacktestSummary) error {
	return s.enqueue("backtest", func(ctx context.Context) error { return s.next.RecordBacktest(ctx, sum) })
}

// ErrSinkClosed se devuelve al encolar después de Close.
var ErrSinkClosed = errors.New("audit sink closed")

func (s *AsyncSink) enqueue(kind string, fn func(context.Context) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- fn:
	default:
		metrics.AuditDropped.Inc()
		slog.Warn("audit: buffer full, record dropped", "kind", kind)
	}
	return nil
}

func (s *AsyncSink) loop() {
	defer s.wg.Done()
	for fn := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := fn(ctx); err != nil {
			slog.Warn("audit: write failed", "err", err)
		}
		cancel()
	}
}

// Close deja de aceptar registros y espera a que se vacíe la cola o a que ctx termine.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Multi reparte cada registro entre varios sinks. Un fallo no impide al resto.
type Multi []ports.AuditSink

func (m Multi) RecordTrade(ctx context.Context, tr domain.TradeRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordTrade(ctx, tr))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordSession(ctx context.Context, res domain.SessionResult) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordSession(ctx, res))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordBacktest(ctx context.Context, sum domain.BacktestSummary) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordBacktest(ctx, sum))
	}
	return errors.Join(errs...)
}
