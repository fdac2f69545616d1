// Package quotes holds the latest quote per instrument and fuses YES/NO pairs
// into the snapshot the decision loop consumes.
package quotes

import (
	"sync"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Store keeps the most recent quote per instrument. Latest write wins, no history.
// Quotes are stored by value, so a reader never sees a partially written entry.
// Safe for concurrent use; create one per process.
type Store struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{quotes: make(map[string]domain.Quote)}
}

// Put upserts the quote for its instrument, overwriting any prior value.
func (s *Store) Put(q domain.Quote) {
	if q.InstrumentID == "" {
		return
	}
	s.mu.Lock()
	s.quotes[q.InstrumentID] = q
	s.mu.Unlock()
}

// Get returns the latest quote for the instrument.
func (s *Store) Get(instrumentID string) (domain.Quote, bool) {
	s.mu.RLock()
	q, ok := s.quotes[instrumentID]
	s.mu.RUnlock()
	return q, ok
}

// Pair reads both legs under a single lock.
func (s *Store) Pair(yesID, noID string) (yes, no domain.Quote, okYes, okNo bool) {
	s.mu.RLock()
	yes, okYes = s.quotes[yesID]
	no, okNo = s.quotes[noID]
	s.mu.RUnlock()
	return
}

// Retain drops every instrument not in ids. Used on session rollover.
func (s *Store) Retain(ids ...string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	for id := range s.quotes {
		if _, ok := keep[id]; !ok {
			delete(s.quotes, id)
		}
	}
	s.mu.Unlock()
}

// Len returns the number of instruments with a quote.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}
