// Package market fetches order books, candles and prices from a
// Binance-compatible REST API and caches reference data in Redis.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/marketpulse/pkg/storage"
)

// ErrMalformed is returned when a response cannot be parsed.
var ErrMalformed = errors.New("malformed market data")

const (
	depthPath  = "/api/v3/depth"
	klinesPath = "/api/v3/klines"
	pricePath  = "/api/v3/ticker/price"

	maxErrorBody = 512
)

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// Client talks to the REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. A non-positive timeout defaults to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type depthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Depth fetches an order-book snapshot of at most limit levels per side.
// Zero-quantity levels are dropped.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (storage.Book, error) {
	q := url.Values{"symbol": {strings.ToUpper(symbol)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var snap depthSnapshot
	if err := c.get(ctx, depthPath, q, &snap); err != nil {
		return storage.Book{}, err
	}

	bids, err := parseLevels(snap.Bids)
	if err != nil {
		return storage.Book{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(snap.Asks)
	if err != nil {
		return storage.Book{}, fmt.Errorf("asks: %w", err)
	}
	return storage.Book{Bids: bids, Asks: asks}, nil
}

func parseLevels(raw [][]string) ([]storage.Level, error) {
	levels := make([]storage.Level, 0, len(raw))
	for i, lvl := range raw {
		if len(lvl) < 2 {
			return nil, fmt.Errorf("%w: level %d has %d fields", ErrMalformed, i, len(lvl))
		}
		price, err := strconv.ParseFloat(lvl[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: level %d price: %v", ErrMalformed, i, err)
		}
		qty, err := strconv.ParseFloat(lvl[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: level %d qty: %v", ErrMalformed, i, err)
		}
		if qty > 0 {
			levels = append(levels, storage.Level{Price: price, Qty: qty})
		}
	}
	return levels, nil
}

// Klines fetches the latest limit candles of interval.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{
		"symbol":   {strings.ToUpper(symbol)},
		"interval": {interval},
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows [][]json.RawMessage
	if err := c.get(ctx, klinesPath, q, &rows); err != nil {
		return nil, err
	}

	out := make([]Kline, 0, len(rows))
	for i, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

// parseKline reads [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []json.RawMessage) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(row))
	}
	var k Kline
	if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
		return Kline{}, fmt.Errorf("%w: open time: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(row[6], &k.CloseTime); err != nil {
		return Kline{}, fmt.Errorf("%w: close time: %v", ErrMalformed, err)
	}
	fields := []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for i, dst := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return Kline{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Kline{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, i+1, err)
		}
		*dst = v
	}
	return k, nil
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Price fetches the last price of symbol.
func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	var tp tickerPrice
	if err := c.get(ctx, pricePath, url.Values{"symbol": {strings.ToUpper(symbol)}}, &tp); err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q", ErrMalformed, tp.Price)
	}
	return v, nil
}

// Prices fetches the last price of several symbols in one request.
func (c *Client) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}
	encoded, err := json.Marshal(upper)
	if err != nil {
		return nil, err
	}

	var tps []tickerPrice
	if err := c.get(ctx, pricePath, url.Values{"symbols": {string(encoded)}}, &tps); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(tps))
	for _, tp := range tps {
		v, err := strconv.ParseFloat(tp.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s price %q", ErrMalformed, tp.Symbol, tp.Price)
		}
		out[tp.Symbol] = v
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformed, path, err)
	}
	return nil
}
