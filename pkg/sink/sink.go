// Package sink delivers bucket flush summaries downstream.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Flush is the summary of one closed sampling bucket.
type Flush struct {
	ID          string
	Symbol      string
	Timestamp   time.Time
	BucketStart int64
	BucketEnd   int64
	Metrics     Metrics
}

// Band is the bid/ask volume within a relative distance of mid.
type Band struct {
	Pct       float64 `json:"pct"`
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
	Imbalance float64 `json:"imbalance"`
}

// Metrics summarizes the accumulated levels of a bucket.
type Metrics struct {
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
	Imbalance float64 `json:"imbalance"`
	BidLevels int     `json:"bid_levels"`
	AskLevels int     `json:"ask_levels"`
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	Mid       float64 `json:"mid"`
	Spread    float64 `json:"spread"`
	Ticks     int     `json:"ticks"`
	Depth     []Band  `json:"depth"`
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type wireFlush struct {
	ID          string  `json:"id"`
	Symbol      string  `json:"symbol"`
	Ts          string  `json:"ts"`
	BucketStart int64   `json:"bucket_start"`
	BucketEnd   int64   `json:"bucket_end"`
	Metrics     Metrics `json:"metrics"`
}

// MarshalJSON encodes the flush with ts as an ISO-8601 UTC string.
func (f Flush) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFlush{
		ID:          f.ID,
		Symbol:      f.Symbol,
		Ts:          f.Timestamp.UTC().Format(isoMillis),
		BucketStart: f.BucketStart,
		BucketEnd:   f.BucketEnd,
		Metrics:     f.Metrics,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (f *Flush) UnmarshalJSON(data []byte) error {
	var w wireFlush
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Ts)
	if err != nil {
		return err
	}
	*f = Flush{
		ID:          w.ID,
		Symbol:      w.Symbol,
		Timestamp:   ts,
		BucketStart: w.BucketStart,
		BucketEnd:   w.BucketEnd,
		Metrics:     w.Metrics,
	}
	return nil
}

// Sink receives flushes.
type Sink interface {
	Send(ctx context.Context, f Flush) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, f Flush) error

// Send calls fn.
func (fn Func) Send(ctx context.Context, f Flush) error {
	return fn(ctx, f)
}

// Multi sends every flush to each sink and joins their errors.
type Multi []Sink

// Send delivers to all sinks even when one fails.
func (m Multi) Send(ctx context.Context, f Flush) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every flush.
var Discard Sink = Func(func(context.Context, Flush) error { return nil })
