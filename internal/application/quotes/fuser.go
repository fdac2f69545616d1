package quotes

import (
	"fmt"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Fuser builds YES/NO snapshots from a Store. Callers poll at their own
// cadence, so consecutive calls may return the same snapshot; compare mids
// (Snapshot.SameMids) to detect that.
type Fuser struct {
	store *Store
}

func NewFuser(store *Store) *Fuser {
	return &Fuser{store: store}
}

// Snapshot fuses the latest quotes of both legs. It returns *domain.DataGapError
// when either leg is absent or lacks bid, ask, mid or timestamp.
func (f *Fuser) Snapshot(yesID, noID string) (domain.Snapshot, error) {
	yes, no, okYes, okNo := f.store.Pair(yesID, noID)
	if err := checkLeg(yesID, yes, okYes); err != nil {
		return domain.Snapshot{}, err
	}
	if err := checkLeg(noID, no, okNo); err != nil {
		return domain.Snapshot{}, err
	}

	ts := yes.Timestamp
	if no.Timestamp.After(ts) {
		ts = no.Timestamp
	}
	return domain.Snapshot{
		Timestamp: ts,
		MidYes:    yes.Mid,
		MidNo:     no.Mid,
		AskYes:    yes.BestAsk,
		AskNo:     no.BestAsk,
		BidYes:    yes.BestBid,
		BidNo:     no.BestBid,
	}, nil
}

func checkLeg(id string, q domain.Quote, ok bool) error {
	if !ok {
		return &domain.DataGapError{InstrumentID: id, Reason: "no quote"}
	}
	if missing := q.Missing(); missing != "" {
		return &domain.DataGapError{InstrumentID: id, Reason: fmt.Sprintf("missing %s", missing)}
	}
	return nil
}
