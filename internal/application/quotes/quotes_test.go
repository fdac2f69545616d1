package quotes_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/application/quotes"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q(id string, bid, ask float64, ts time.Time) domain.Quote {
	return domain.Quote{InstrumentID: id, BestBid: bid, BestAsk: ask, Mid: (bid + ask) / 2, Timestamp: ts}
}

func TestStore_LatestWins(t *testing.T) {
	s := quotes.NewStore()
	now := time.Now()

	s.Put(q("yes", 0.40, 0.42, now))
	s.Put(q("yes", 0.45, 0.47, now.Add(time.Second)))

	got, ok := s.Get("yes")
	require.True(t, ok)
	assert.InDelta(t, 0.46, got.Mid, 1e-9)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get("no")
	assert.False(t, ok)
}

func TestStore_IgnoresEmptyInstrument(t *testing.T) {
	s := quotes.NewStore()
	s.Put(domain.Quote{Mid: 0.5})
	assert.Equal(t, 0, s.Len())
}

func TestStore_Retain(t *testing.T) {
	s := quotes.NewStore()
	now := time.Now()
	s.Put(q("old-yes", 0.4, 0.5, now))
	s.Put(q("old-no", 0.4, 0.5, now))
	s.Put(q("new-yes", 0.4, 0.5, now))

	s.Retain("new-yes", "new-no")

	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("old-yes")
	assert.False(t, ok)
}

func TestStore_ConcurrentPutGet(t *testing.T) {
	s := quotes.NewStore()
	now := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				p := float64(i%90+1) / 100
				s.Put(domain.Quote{InstrumentID: fmt.Sprintf("i%d", w%2), BestBid: p, BestAsk: p, Mid: p, Timestamp: now})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if got, ok := s.Get(fmt.Sprintf("i%d", w%2)); ok {
					// bid, ask y mid se escriben juntos: nunca se ven a medias
					assert.Equal(t, got.BestBid, got.Mid)
					assert.Equal(t, got.BestAsk, got.Mid)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, s.Len())
}

func TestFuser_SnapshotUsesMaxTimestamp(t *testing.T) {
	s := quotes.NewStore()
	f := quotes.NewFuser(s)
	t0 := time.Unix(1731000600, 0)

	s.Put(q("yes", 0.34, 0.36, t0))
	s.Put(q("no", 0.62, 0.66, t0.Add(3*time.Second)))

	snap, err := f.Snapshot("yes", "no")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*time.Second), snap.Timestamp)
	assert.InDelta(t, 0.35, snap.MidYes, 1e-9)
	assert.InDelta(t, 0.64, snap.MidNo, 1e-9)
	assert.InDelta(t, 0.36, snap.AskYes, 1e-9)
	assert.InDelta(t, 0.62, snap.BidNo, 1e-9)
}

func TestFuser_DataGap(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		quotes []domain.Quote
		reason string
	}{
		{"missing no leg", []domain.Quote{q("yes", 0.4, 0.5, now)}, "no quote"},
		{"missing yes leg", []domain.Quote{q("no", 0.4, 0.5, now)}, "no quote"},
		{"no bid", []domain.Quote{q("yes", 0.4, 0.5, now), {InstrumentID: "no", BestAsk: 0.5, Mid: 0.5, Timestamp: now}}, "missing bid"},
		{"no timestamp", []domain.Quote{q("yes", 0.4, 0.5, now), q("no", 0.4, 0.5, time.Time{})}, "missing timestamp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := quotes.NewStore()
			for _, qq := range tc.quotes {
				s.Put(qq)
			}
			_, err := quotes.NewFuser(s).Snapshot("yes", "no")

			var gap *domain.DataGapError
			require.True(t, errors.As(err, &gap))
			assert.Equal(t, tc.reason, gap.Reason)
		})
	}
}

func TestFuser_RepeatedCallsSameMids(t *testing.T) {
	s := quotes.NewStore()
	f := quotes.NewFuser(s)
	now := time.Now()
	s.Put(q("yes", 0.34, 0.36, now))
	s.Put(q("no", 0.62, 0.66, now))

	a, err := f.Snapshot("yes", "no")
	require.NoError(t, err)
	s.Put(q("yes", 0.34, 0.36, now.Add(time.Second)))
	b, err := f.Snapshot("yes", "no")
	require.NoError(t, err)

	assert.True(t, a.SameMids(b))
	assert.NotEqual(t, a.Timestamp, b.Timestamp)
}
