package backtest

import (
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// winnerThreshold es el precio final a partir del cual se asume que un lado ganó.
const winnerThreshold = 0.9

// DetectWinner infers the resolved side from the last row of the series.
// A side wins when its final price is above 0.9 and not below the other side;
// otherwise the outcome is unknown and nothing pays out.
func DetectWinner(last domain.PriceRow) domain.Winner {
	switch {
	case last.PriceYes > winnerThreshold && last.PriceYes >= last.PriceNo:
		return domain.WinnerYes
	case last.PriceNo > winnerThreshold && last.PriceNo >= last.PriceYes:
		return domain.WinnerNo
	}
	return domain.WinnerUnknown
}

// Settle turns a closed session into a market result. profit_final is the
// larger of the locked profit and the payout-based profit; it is also returned
// unrounded so compounding does not accumulate rounding error.
func Settle(res domain.SessionResult, last domain.PriceRow, capitalBefore float64) (domain.MarketResult, float64) {
	st := res.Ledger
	winner := DetectWinner(last)

	var payout float64
	switch winner {
	case domain.WinnerYes:
		payout = st.QtyYes
	case domain.WinnerNo:
		payout = st.QtyNo
	}

	totalCost := st.CostYes + st.CostNo
	profitReal := payout - totalCost
	profitLocked := st.GuaranteedProfit
	profitFinal := max(profitLocked, profitReal)

	var roi float64
	if used := st.InitialCapital - st.Capital; used > 0 {
		roi = profitFinal / used * 100
	}

	safety := 0
	for _, tr := range res.Trades {
		if tr.Action.IsSafety() {
			safety++
		}
	}

	return domain.MarketResult{
		Market:        res.Session.Slug,
		Ticks:         res.Ticks,
		CapitalBefore: domain.Round(capitalBefore, 2),
		CapitalAfter:  domain.Round(capitalBefore+profitFinal, 2),
		ProfitReal:    domain.Round(profitReal, 3),
		ProfitLocked:  domain.Round(profitLocked, 3),
		ProfitFinal:   domain.Round(profitFinal, 3),
		Winner:        winner,
		FinalPairCost: domain.Round(st.PairCost, 4),
		Trades:        len(res.Trades),
		SafetyTrades:  safety,
		Locked:        st.Locked,
		ROIPct:        domain.Round(roi, 2),
		TradeLog:      res.Trades,
	}, profitFinal
}
