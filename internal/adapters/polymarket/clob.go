package polymarket

// clob.go: Polymarket CLOB API adapter (lectura pública).
//
// FetchOrderBooks lanza un goroutine por batch; el rate limiter en doWithRetry
// marca el ritmo, así que no hace falta semáforo explícito.

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const (
	booksPath        = "/books"
	midpointPath     = "/midpoint"
	pricesHistoryURL = "/prices-history"
	batchSize        = 20 // máx token_ids por request a /books
)

// FetchOrderBooks obtiene los orderbooks para los token_ids dados usando el endpoint batch.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	if len(tokenIDs) == 0 {
		return map[string]domain.OrderBook{}, nil
	}

	batches := splitBatches(tokenIDs, batchSize)

	type batchResult struct {
		books map[string]domain.OrderBook
		err   error
		idx   int
	}

	resultCh := make(chan batchResult, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			books, err := c.fetchBooksBatch(ctx, batch)
			resultCh <- batchResult{books: books, err: err, idx: i}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	result := make(map[string]domain.OrderBook, len(tokenIDs))
	var firstErr error

	for r := range resultCh {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("clob.FetchOrderBooks batch %d: %w", r.idx, r.err)
			}
			continue
		}
		for k, v := range r.books {
			result[k] = v
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}

	slog.Debug("order books fetched", "tokens", len(tokenIDs), "books", len(result))
	return result, nil
}

// splitBatches divide tokenIDs en slices de tamaño máximo size.
func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(tokenIDs)+size-1)/size)
	for i := 0; i < len(tokenIDs); i += size {
		end := min(i+size, len(tokenIDs))
		batches = append(batches, tokenIDs[i:end])
	}
	return batches
}

// fetchBooksBatch hace un POST /books para un batch de token_ids.
func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	if err := c.post(ctx, c.booksLimiter, c.clobBase+booksPath, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}

	return mapOrderBooks(resp, time.Now().UTC()), nil
}

// Midpoint devuelve el midpoint publicado por el CLOB para un token.
func (c *Client) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	u := fmt.Sprintf("%s%s?token_id=%s", c.clobBase, midpointPath, url.QueryEscape(tokenID))

	var resp midpointResponse
	if err := c.get(ctx, c.pricesLimiter, u, &resp); err != nil {
		return 0, fmt.Errorf("clob.Midpoint: %w", err)
	}
	mid := domain.ParsePrice(resp.Mid)
	if mid <= 0 {
		return 0, fmt.Errorf("clob.Midpoint: invalid mid %q", resp.Mid)
	}
	return mid, nil
}

// PriceHistory descarga la serie de precios de un token (interval e.g. "1m").
func (c *Client) PriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]domain.PricePoint, error) {
	q := url.Values{}
	q.Set("market", tokenID)
	q.Set("interval", interval)
	q.Set("fidelity", strconv.Itoa(fidelity))
	u := c.clobBase + pricesHistoryURL + "?" + q.Encode()

	var resp priceHistoryResponse
	if err := c.get(ctx, c.pricesLimiter, u, &resp); err != nil {
		return nil, fmt.Errorf("clob.PriceHistory: %w", err)
	}
	return mapPriceHistory(resp.History), nil
}
