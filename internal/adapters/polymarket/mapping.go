package polymarket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// mapGammaMarket convierte un gammaMarket a domain.Market.
// Falla si clobTokenIds no trae exactamente dos tokens.
func mapGammaMarket(gm gammaMarket) (domain.Market, error) {
	ids, err := parseStringArray(gm.ClobTokenIDs)
	if err != nil {
		return domain.Market{}, fmt.Errorf("clobTokenIds: %w", err)
	}
	if len(ids) != 2 {
		return domain.Market{}, fmt.Errorf("clobTokenIds: expected 2 tokens, got %d", len(ids))
	}

	outcomes, _ := parseStringArray(gm.Outcomes)
	if len(outcomes) != 2 {
		outcomes = []string{"Up", "Down"}
	}

	return domain.Market{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		StartDate:   parseGammaTime(gm.StartDate),
		EndDate:     parseGammaTime(gm.EndDate),
		Tokens: [2]domain.Token{
			{TokenID: ids[0], Outcome: outcomes[0]},
			{TokenID: ids[1], Outcome: outcomes[1]},
		},
		Active:  gm.Active,
		Closed:  gm.Closed,
		NegRisk: gm.NegRisk,
	}, nil
}

// parseStringArray decodifica un array JSON serializado como string: `["a","b"]`.
func parseStringArray(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("empty")
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseGammaTime prueba los formatos de fecha que usa Gamma.
func parseGammaTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseMillis convierte un timestamp en ms (string) a time.Time. Vacío o inválido → fallback.
func parseMillis(s string, fallback time.Time) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse, now time.Time) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = mapOrderBook(r.AssetID, r.Bids, r.Asks, parseMillis(r.Timestamp, now))
	}
	return result
}

func mapOrderBook(tokenID string, bids, asks []bookEntryRaw, ts time.Time) domain.OrderBook {
	return domain.OrderBook{
		TokenID:   tokenID,
		Bids:      mapBookEntries(bids, false),
		Asks:      mapBookEntries(asks, true),
		Timestamp: ts,
	}
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price := domain.ParsePrice(r.Price)
		size := domain.ParsePrice(r.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}

// mapPriceHistory convierte /prices-history a puntos ordenados por tiempo.
func mapPriceHistory(raw []pricePointRaw) []domain.PricePoint {
	points := make([]domain.PricePoint, 0, len(raw))
	for _, p := range raw {
		if p.T <= 0 {
			continue
		}
		points = append(points, domain.PricePoint{Timestamp: time.Unix(p.T, 0).UTC(), Price: p.P})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points
}

// quotesFromEvent extrae los quotes de un evento del canal market.
// book → top of book completo. price_change → best_bid/best_ask del cambio;
// si no vienen, el cambio es de un nivel cualquiera del libro y se ignora.
func quotesFromEvent(ev wsEvent, now time.Time) []domain.Quote {
	ts := parseMillis(ev.Timestamp, now)
	switch ev.EventType {
	case "book":
		if ev.AssetID == "" {
			return nil
		}
		q := mapOrderBook(ev.AssetID, ev.Bids, ev.Asks, ts).Quote()
		if q.Mid <= 0 {
			return nil
		}
		return []domain.Quote{q}

	case "price_change":
		out := make([]domain.Quote, 0, len(ev.PriceChanges))
		for _, pc := range ev.PriceChanges {
			if pc.AssetID == "" {
				continue
			}
			bid := domain.ParsePrice(pc.BestBid)
			ask := domain.ParsePrice(pc.BestAsk)
			if bid > 0 && ask > 0 {
				out = append(out, domain.Quote{
					InstrumentID: pc.AssetID,
					BestBid:      bid,
					BestAsk:      ask,
					Mid:          (bid + ask) / 2,
					Timestamp:    ts,
				})
			}
		}
		return out
	}
	return nil
}
