package polymarket

// stream.go: feed en tiempo real del canal market del CLOB.
//
// Una conexión por suscripción. Subscribe cierra la conexión actual y Run
// reconecta al instante con los nuevos IDs; un corte de red reconecta con
// backoff exponencial (x1.8, máx 30s).

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/metrics"
)

const (
	DefaultMarketWS = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	wsReadTimeout  = 30 * time.Second
	wsPingInterval = 15 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsMinBackoff   = time.Second
	wsMaxBackoff   = 30 * time.Second
)

var errResubscribe = errors.New("resubscribe")

// StreamFeed implementa ports.QuoteFeed sobre el websocket de Polymarket.
type StreamFeed struct {
	url    string
	dialer websocket.Dialer
	now    func() time.Time

	mu     sync.Mutex
	ids    []string
	conn   *websocket.Conn
	resub  bool
	wakeup chan struct{}
}

// NewStreamFeed crea un feed. url vacío usa el endpoint de producción.
func NewStreamFeed(url string) *StreamFeed {
	if url == "" {
		url = DefaultMarketWS
	}
	return &StreamFeed{
		url:    url,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:    time.Now,
		wakeup: make(chan struct{}, 1),
	}
}

// Subscribe reemplaza los instrumentos seguidos.
func (f *StreamFeed) Subscribe(ids []string) {
	f.mu.Lock()
	f.ids = append([]string(nil), ids...)
	conn := f.conn
	if conn != nil {
		f.resub = true
	}
	f.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	select {
	case f.wakeup <- struct{}{}:
	default:
	}
}

// Run publica quotes en out hasta que ctx termine.
func (f *StreamFeed) Run(ctx context.Context, out chan<- domain.Quote) error {
	backoff := wsMinBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ids := f.subscribed()
		if len(ids) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.wakeup:
			}
			continue
		}

		err := f.consume(ctx, ids, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.takeResub() {
			backoff = wsMinBackoff
			continue
		}

		metrics.FeedReconnects.WithLabelValues("ws").Inc()
		slog.Warn("polymarket: ws disconnected, retrying", "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(wsMaxBackoff), float64(backoff)*1.8))
	}
}

func (f *StreamFeed) consume(ctx context.Context, ids []string, out chan<- domain.Quote) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return &domain.TransportError{Op: "ws dial", Err: err}
	}
	defer conn.Close()

	f.mu.Lock()
	if !slices.Equal(ids, f.ids) {
		// Subscribe llegó durante el dial.
		f.resub = true
		f.mu.Unlock()
		return errResubscribe
	}
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.mu.Unlock()
	}()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	var writeMu sync.Mutex
	write := func(msgType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(msgType, data)
	}

	sub, err := json.Marshal(wsSubscribe{Type: "subscribe", Channel: "market", AssetIDs: ids})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := write(websocket.TextMessage, sub); err != nil {
		return &domain.TransportError{Op: "ws subscribe", Err: err}
	}
	slog.Info("polymarket: ws subscribed", "assets", len(ids))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					slog.Debug("polymarket: ws ping failed", "err", err)
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	// Cerrar la conexión desbloquea ReadMessage cuando ctx termina.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return &domain.TransportError{Op: "ws read", Err: err}
		}
		for _, q := range f.decode(message) {
			select {
			case out <- q:
				metrics.QuotesTotal.WithLabelValues("ws").Inc()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decode acepta un evento suelto o un array de eventos.
func (f *StreamFeed) decode(message []byte) []domain.Quote {
	message = bytes.TrimSpace(message)
	if len(message) == 0 {
		return nil
	}

	var events []wsEvent
	if message[0] == '[' {
		if err := json.Unmarshal(message, &events); err != nil {
			slog.Debug("polymarket: undecodable ws message", "err", err)
			return nil
		}
	} else {
		var ev wsEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			slog.Debug("polymarket: undecodable ws message", "err", err)
			return nil
		}
		events = []wsEvent{ev}
	}

	now := f.now().UTC()
	var out []domain.Quote
	for _, ev := range events {
		out = append(out, quotesFromEvent(ev, now)...)
	}
	return out
}

func (f *StreamFeed) subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func (f *StreamFeed) takeResub() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.resub
	f.resub = false
	return r
}
