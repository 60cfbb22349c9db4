package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache keeps reference candles and the price matrix in Redis.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// CacheConfig holds the Redis connection settings.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewCache creates a cache. It does not connect until first use; call Ping
// to fail fast.
func NewCache(cfg CacheConfig) *Cache {
	return NewCacheWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Prefix, cfg.TTL)
}

// NewCacheWithClient wraps an existing client.
func NewCacheWithClient(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) refKey(symbol string) string   { return c.prefix + "ref:" + symbol }
func (c *Cache) matrixKey(quote string) string  { return c.prefix + "matrix:" + quote }

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetKlines stores the reference candles of symbol with the cache TTL.
func (c *Cache) SetKlines(ctx context.Context, symbol string, klines []Kline) error {
	data, err := json.Marshal(klines)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.refKey(symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache klines %s: %w", symbol, err)
	}
	return nil
}

// Klines reads the reference candles of symbol.
func (c *Cache) Klines(ctx context.Context, symbol string) ([]Kline, error) {
	data, err := c.client.Get(ctx, c.refKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var out []Kline
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetMatrix writes prices into the matrix hash of quote and refreshes its TTL.
func (c *Cache) SetMatrix(ctx context.Context, quote string, prices map[string]float64) error {
	if len(prices) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(prices))
	for sym, p := range prices {
		values[sym] = strconv.FormatFloat(p, 'f', -1, 64)
	}

	key := c.matrixKey(quote)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache matrix %s: %w", quote, err)
	}
	return nil
}

// Matrix reads the price matrix of quote.
func (c *Cache) Matrix(ctx context.Context, quote string) (map[string]float64, error) {
	raw, err := c.client.HGetAll(ctx, c.matrixKey(quote)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrCacheMiss
	}
	out := make(map[string]float64, len(raw))
	for sym, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: matrix %s=%q", ErrMalformed, sym, s)
		}
		out[sym] = v
	}
	return out, nil
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
