package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaPageLimit   = 500
)

// ErrMarketNotFound se devuelve cuando Gamma no conoce el slug pedido.
var ErrMarketNotFound = errors.New("market not found")

// MarketBySlug busca un mercado activo y abierto por slug.
func (c *Client) MarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	q := url.Values{}
	q.Set("slug", slug)
	q.Set("active", "true")
	q.Set("closed", "false")
	u := c.gammaBase + gammaMarketsPath + "?" + q.Encode()

	var resp gammaMarketsResponse
	if err := c.get(ctx, c.gammaLimiter, u, &resp); err != nil {
		return domain.Market{}, fmt.Errorf("gamma.MarketBySlug: %w", err)
	}
	if len(resp) == 0 {
		return domain.Market{}, fmt.Errorf("gamma.MarketBySlug %s: %w", slug, ErrMarketNotFound)
	}

	m, err := mapGammaMarket(resp[0])
	if err != nil {
		return domain.Market{}, fmt.Errorf("gamma.MarketBySlug %s: %w", slug, err)
	}
	return m, nil
}

// ClosedMarkets pagina los mercados cerrados de un tag, más recientes primero.
// Los mercados sin exactamente dos tokens se descartan.
func (c *Client) ClosedMarkets(ctx context.Context, tagID, maxPages int) ([]domain.Market, error) {
	var all []domain.Market

	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("ascending", "false")
		q.Set("order", "startDate")
		q.Set("limit", strconv.Itoa(gammaPageLimit))
		q.Set("offset", strconv.Itoa(page*gammaPageLimit))
		q.Set("closed", "true")
		q.Set("tag_id", strconv.Itoa(tagID))
		u := c.gammaBase + gammaMarketsPath + "?" + q.Encode()

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, u, &resp); err != nil {
			return nil, fmt.Errorf("gamma.ClosedMarkets page %d: %w", page, err)
		}
		if len(resp) == 0 {
			break
		}

		for _, gm := range resp {
			m, err := mapGammaMarket(gm)
			if err != nil {
				continue
			}
			all = append(all, m)
		}

		slog.Debug("gamma: closed markets page", "page", page+1, "count", len(resp), "total", len(all))

		if len(resp) < gammaPageLimit {
			break
		}
	}
	return all, nil
}

// SessionLocator implementa ports.SessionProvider para mercados por slot:
// el slug se deriva del inicio del slot (e.g. btc-updown-15m-1731000600).
type SessionLocator struct {
	client *Client
	prefix string
	length time.Duration

	mu    sync.Mutex
	cache map[int64]domain.Session
}

// NewSessionLocator crea un locator para slots de duración length.
func NewSessionLocator(c *Client, prefix string, length time.Duration) *SessionLocator {
	return &SessionLocator{
		client: c,
		prefix: prefix,
		length: length,
		cache:  make(map[int64]domain.Session),
	}
}

// ActiveSession devuelve la sesión del slot que contiene at. Cachea por slot.
func (l *SessionLocator) ActiveSession(ctx context.Context, at time.Time) (domain.Session, error) {
	slot := domain.SlotStart(at, l.length)
	key := slot.Unix()

	l.mu.Lock()
	if s, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return s, nil
	}
	l.mu.Unlock()

	slug := domain.SlotSlug(l.prefix, slot)
	m, err := l.client.MarketBySlug(ctx, slug)
	if err != nil {
		return domain.Session{}, err
	}
	if !m.HasTokens() {
		return domain.Session{}, fmt.Errorf("gamma: market %s without tokens", slug)
	}
	s := m.Session(slug, slot, slot.Add(l.length))

	l.mu.Lock()
	for k := range l.cache {
		if k < key {
			delete(l.cache, k)
		}
	}
	l.cache[key] = s
	l.mu.Unlock()

	slog.Info("gamma: session found",
		"slug", s.Slug,
		"question", domain.TruncateQuestion(s.Question, s.Slug, 60),
		"start", s.Start.Format(time.RFC3339),
	)
	return s, nil
}
