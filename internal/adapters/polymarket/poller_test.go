package polymarket_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

type stubBooks struct {
	books map[string]domain.OrderBook
	err   error
	calls atomic.Int32
}

func (s *stubBooks) FetchOrderBooks(_ context.Context, _ []string) (map[string]domain.OrderBook, error) {
	s.calls.Add(1)
	return s.books, s.err
}

type stubMids map[string]float64

func (m stubMids) Midpoint(_ context.Context, id string) (float64, error) {
	if v, ok := m[id]; ok {
		return v, nil
	}
	return 0, errors.New("no mid")
}

func TestPollFeed_MidpointFillsOnlyMid(t *testing.T) {
	ts := time.Unix(1731000660, 0).UTC()
	books := &stubBooks{books: map[string]domain.OrderBook{
		"yes": {
			TokenID:   "yes",
			Bids:      []domain.BookEntry{{Price: 0.60, Size: 10}},
			Asks:      []domain.BookEntry{{Price: 0.62, Size: 10}},
			Timestamp: ts,
		},
		// libro vacío: sin bids ni asks
		"no": {TokenID: "no", Timestamp: ts},
	}}

	feed := polymarket.NewPollFeed(books, stubMids{"no": 0.39}, 10*time.Millisecond)
	feed.Subscribe([]string{"yes", "no"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan domain.Quote, 8)
	go feed.Run(ctx, out)

	got := map[string]domain.Quote{}
	for len(got) < 2 {
		q := receive(t, out)
		got[q.InstrumentID] = q
	}

	assert.InDelta(t, 0.61, got["yes"].Mid, 1e-9)
	assert.InDelta(t, 0.39, got["no"].Mid, 1e-9)
	assert.Equal(t, ts, got["no"].Timestamp)
	assert.Zero(t, got["no"].BestBid, "bid is never derived from the midpoint")
	assert.Zero(t, got["no"].BestAsk)
	assert.False(t, got["no"].Complete())
}

func TestPollFeed_OneSidedBookPublishedIncomplete(t *testing.T) {
	books := &stubBooks{books: map[string]domain.OrderBook{
		"yes": {TokenID: "yes", Asks: []domain.BookEntry{{Price: 0.5, Size: 1}}},
	}}
	feed := polymarket.NewPollFeed(books, nil, 5*time.Millisecond)
	feed.Subscribe([]string{"yes"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan domain.Quote, 8)
	go feed.Run(ctx, out)

	q := receive(t, out)
	assert.Equal(t, "yes", q.InstrumentID)
	assert.InDelta(t, 0.5, q.BestAsk, 1e-9)
	assert.Equal(t, "bid", q.Missing())
}

func TestPollFeed_ErrorsKeepPolling(t *testing.T) {
	books := &stubBooks{err: errors.New("boom")}
	feed := polymarket.NewPollFeed(books, nil, 5*time.Millisecond)
	feed.Subscribe([]string{"yes", "no"})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	err := feed.Run(ctx, make(chan domain.Quote, 1))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, books.calls.Load(), int32(1))
}

func TestPollFeed_NoSubscriptionNoRequests(t *testing.T) {
	books := &stubBooks{}
	feed := polymarket.NewPollFeed(books, nil, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = feed.Run(ctx, make(chan domain.Quote, 1))

	assert.Zero(t, books.calls.Load())
}
