package market

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache connects to MARKETPULSE_TEST_REDIS or skips.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("MARKETPULSE_TEST_REDIS")
	if addr == "" {
		t.Skip("MARKETPULSE_TEST_REDIS not set")
	}
	c := NewCache(CacheConfig{Addr: addr, Prefix: "marketpulse-test:" + uuid.NewString() + ":", TTL: time.Minute})
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Ping(ctx))
	return c
}

func TestCache_Keys(t *testing.T) {
	c := NewCache(CacheConfig{Addr: "127.0.0.1:0", Prefix: "marketpulse:"})
	defer c.Close()
	assert.Equal(t, "marketpulse:ref:BTCUSDT", c.refKey("BTCUSDT"))
	assert.Equal(t, "marketpulse:matrix:USDT", c.matrixKey("USDT"))
	assert.Equal(t, time.Hour, c.ttl)
}

func TestCache_Klines(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Klines(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrCacheMiss)

	in := []Kline{{OpenTime: 1, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3, CloseTime: 2}}
	require.NoError(t, c.SetKlines(ctx, "BTCUSDT", in))

	out, err := c.Klines(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCache_Matrix(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Matrix(ctx, "USDT")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.SetMatrix(ctx, "USDT", nil))
	require.NoError(t, c.SetMatrix(ctx, "USDT", map[string]float64{"BTCUSDT": 42000.5}))
	require.NoError(t, c.SetMatrix(ctx, "USDT", map[string]float64{"ETHUSDT": 2200}))

	m, err := c.Matrix(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 42000.5, "ETHUSDT": 2200}, m)
}
