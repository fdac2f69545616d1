package polymarket

// poller.go: feed por polling REST. Alternativa al websocket cuando el WS
// no está disponible: un POST /books por intervalo para los dos tokens.
// Un libro con un lado vacío se publica incompleto, con el mid de /midpoint.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/metrics"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const defaultPollInterval = 500 * time.Millisecond

// PollFeed implementa ports.QuoteFeed sobre la API REST del CLOB.
type PollFeed struct {
	books    ports.BookProvider
	mids     ports.MidpointProvider
	interval time.Duration

	mu  sync.Mutex
	ids []string
}

// NewPollFeed crea un feed por polling. mids puede ser nil.
func NewPollFeed(books ports.BookProvider, mids ports.MidpointProvider, interval time.Duration) *PollFeed {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollFeed{books: books, mids: mids, interval: interval}
}

// Subscribe reemplaza los instrumentos seguidos.
func (p *PollFeed) Subscribe(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append([]string(nil), ids...)
}

// Run hace polling hasta que ctx termine. Los errores se loguean y el ciclo sigue.
func (p *PollFeed) Run(ctx context.Context, out chan<- domain.Quote) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		p.mu.Lock()
		ids := append([]string(nil), p.ids...)
		p.mu.Unlock()
		if len(ids) == 0 {
			continue
		}

		for _, q := range p.poll(ctx, ids) {
			select {
			case out <- q:
				metrics.QuotesTotal.WithLabelValues("rest").Inc()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *PollFeed) poll(ctx context.Context, ids []string) []domain.Quote {
	books, err := p.books.FetchOrderBooks(ctx, ids)
	if err != nil {
		if ctx.Err() == nil {
			metrics.FeedReconnects.WithLabelValues("rest").Inc()
			slog.Warn("polymarket: book poll failed", "err", err)
		}
		return nil
	}

	out := make([]domain.Quote, 0, len(ids))
	for _, id := range ids {
		q := books[id].Quote()
		q.InstrumentID = id
		if q.Timestamp.IsZero() {
			q.Timestamp = time.Now().UTC()
		}
		// Un lado vacío no se rellena: el quote sale incompleto y el fuser
		// lo reporta como hueco. /midpoint solo aporta el mid.
		if q.Mid <= 0 && p.mids != nil {
			mid, err := p.mids.Midpoint(ctx, id)
			if err != nil {
				slog.Debug("polymarket: midpoint fallback failed", "token", id, "err", err)
			} else {
				q.Mid = mid
			}
		}
		out = append(out, q)
	}
	return out
}
