package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func TestTradeValues(t *testing.T) {
	ts := time.Date(2024, 11, 7, 17, 30, 5, 0, time.UTC)
	v, err := tradeValues(domain.TradeRecord{
		SessionID: "s1",
		Tick:      3,
		Timestamp: ts,
		Action:    domain.ActionSafeYes,
		Price:     0.123456789,
		Qty:       10.555,
	})
	require.NoError(t, err)

	assert.Equal(t, "s1", v["session_id"])
	assert.Equal(t, "SAFE_YES", v["action"])
	assert.InDelta(t, 0.12346, v["price"], 1e-12)
	assert.InDelta(t, 10.56, v["qty"], 1e-12)
	assert.Equal(t, "2024-11-07T17:30:05Z", v["ts"])

	var back domain.TradeRecord
	require.NoError(t, json.Unmarshal(v["payload"].([]byte), &back))
	assert.Equal(t, 3, back.Tick)
}

func TestNewRedisSink_InvalidURL(t *testing.T) {
	_, err := NewRedisSink("http://not-redis", "")
	assert.Error(t, err)
}

func TestRedisSink_UnreachableServer(t *testing.T) {
	s, err := NewRedisSink("redis://127.0.0.1:1/0?dial_timeout=100ms&max_retries=-1", "")
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, s.RecordTrade(ctx, domain.TradeRecord{SessionID: "x"}))
	assert.Equal(t, "hedger:trades", s.key("trades"))
}
