package storage

// redis.go: publica la auditoría en streams de Redis para consumidores externos
// (dashboards, alertas). No sustituye a SQLite: es fan-out, no fuente de verdad.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const (
	DefaultRedisPrefix = "hedger"
	streamMaxLen       = 10000
	sessionTTL         = 24 * time.Hour
)

// RedisSink implementa ports.AuditSink sobre streams de Redis.
//
//	<prefix>:trades     XADD por trade
//	<prefix>:sessions   XADD por sesión cerrada
//	<prefix>:backtests  XADD por backtest
//	<prefix>:session:<id>  último cierre de la sesión (SET con TTL)
type RedisSink struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisSink crea un sink desde una URL redis://.
func NewRedisSink(url, prefix string) (*RedisSink, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("storage.NewRedisSink: %w", err)
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSink{rdb: redis.NewClient(opt), prefix: prefix}, nil
}

// Ping comprueba la conexión.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// RecordTrade añade el trade al stream de trades.
func (s *RedisSink) RecordTrade(ctx context.Context, tr domain.TradeRecord) error {
	values, err := tradeValues(tr)
	if err != nil {
		return fmt.Errorf("storage.RedisSink.RecordTrade: %w", err)
	}
	if err := s.xadd(ctx, "trades", values); err != nil {
		return fmt.Errorf("storage.RedisSink.RecordTrade: %w", err)
	}
	return nil
}

// RecordSession publica el cierre y lo deja consultable por id.
func (s *RedisSink) RecordSession(ctx context.Context, res domain.SessionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("storage.RedisSink.RecordSession: marshal: %w", err)
	}
	if err := s.xadd(ctx, "sessions", map[string]any{
		"session_id": res.Session.ID,
		"slug":       res.Session.Slug,
		"payload":    payload,
	}); err != nil {
		return fmt.Errorf("storage.RedisSink.RecordSession: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key("session:"+res.Session.ID), payload, sessionTTL).Err(); err != nil {
		return fmt.Errorf("storage.RedisSink.RecordSession: set: %w", err)
	}
	return nil
}

// RecordBacktest publica el resumen del run (sin el detalle por mercado).
func (s *RedisSink) RecordBacktest(ctx context.Context, sum domain.BacktestSummary) error {
	values := map[string]any{
		"run_id":        sum.RunID,
		"markets":       sum.Markets,
		"final_capital": sum.FinalCapital,
		"roi_pct":       sum.ROIPct,
		"win_rate_pct":  sum.WinRatePct,
	}
	if err := s.xadd(ctx, "backtests", values); err != nil {
		return fmt.Errorf("storage.RedisSink.RecordBacktest: %w", err)
	}
	return nil
}

// Close cierra el cliente.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

func (s *RedisSink) xadd(ctx context.Context, stream string, values map[string]any) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
}

func (s *RedisSink) key(name string) string {
	return s.prefix + ":" + name
}

// tradeValues aplana un trade redondeado en campos de stream + el JSON completo.
func tradeValues(tr domain.TradeRecord) (map[string]any, error) {
	tr = tr.Rounded()
	payload, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return map[string]any{
		"session_id": tr.SessionID,
		"action":     string(tr.Action),
		"price":      tr.Price,
		"qty":        tr.Qty,
		"ts":         tr.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload":    payload,
	}, nil
}
