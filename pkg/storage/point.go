package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidLevel is returned when a level is not a [price, qty] pair of finite numbers.
var ErrInvalidLevel = errors.New("level must be a [price, qty] pair")

// Level is one order-book price level. It encodes as a [price, qty] array.
type Level struct {
	Price float64
	Qty   float64
}

// MarshalJSON encodes the level as [price, qty].
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Price, l.Qty})
}

// UnmarshalJSON accepts exactly two finite numbers.
func (l *Level) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLevel, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: got %d elements", ErrInvalidLevel, len(pair))
	}
	for _, v := range pair {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidLevel
		}
	}
	l.Price, l.Qty = pair[0], pair[1]
	return nil
}

// Book is the raw levels behind a point.
type Book struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Point is one immutable order-book observation.
type Point struct {
	Symbol      string  `json:"symbol"`
	Timestamp   int64   `json:"timestamp"`
	Mid         float64 `json:"mid"`
	BestBid     float64 `json:"best_bid"`
	BestAsk     float64 `json:"best_ask"`
	Spread      float64 `json:"spread"`
	BidVolume   float64 `json:"bid_volume"`
	AskVolume   float64 `json:"ask_volume"`
	BucketStart int64   `json:"bucket_start"`
	BucketEnd   int64   `json:"bucket_end"`
	Book        Book    `json:"book"`
}

// NewPoint derives the summary fields of a point from its levels. Best bid is
// the highest bid price and best ask the lowest ask price; mid and spread are
// zero unless both sides are present.
func NewPoint(symbol string, ts, bucketStart, bucketEnd int64, bids, asks []Level) Point {
	p := Point{
		Symbol:      symbol,
		Timestamp:   ts,
		BucketStart: bucketStart,
		BucketEnd:   bucketEnd,
		Book: Book{
			Bids: append([]Level(nil), bids...),
			Asks: append([]Level(nil), asks...),
		},
	}

	for i, b := range bids {
		p.BidVolume += b.Qty
		if i == 0 || b.Price > p.BestBid {
			p.BestBid = b.Price
		}
	}
	for i, a := range asks {
		p.AskVolume += a.Qty
		if i == 0 || a.Price < p.BestAsk {
			p.BestAsk = a.Price
		}
	}
	if len(bids) > 0 && len(asks) > 0 {
		p.Mid = (p.BestBid + p.BestAsk) / 2
		p.Spread = p.BestAsk - p.BestBid
	}
	return p
}

// Empty reports whether the point carries no levels on either side.
func (p Point) Empty() bool {
	return len(p.Book.Bids) == 0 && len(p.Book.Asks) == 0
}
