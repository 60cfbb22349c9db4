/*
Package storage provides the retention backends for sampling points.

A point is one order-book observation of a symbol: the raw levels plus the
summary fields (mid, best bid/ask, spread, side volumes) computed at ingest.
The sampling store appends points and reads them back by time range when a
consumer asks for a window.

# Backends

  - memory: per-symbol slices, lost on restart
  - badger: BadgerDB (LSM tree + Snappy compression), survives restarts

Both implement PointStore:

	type PointStore interface {
	    Append(ctx context.Context, p Point) error
	    Range(ctx context.Context, symbol string, from, to int64) ([]Point, error)
	    EvictBefore(ctx context.Context, symbol string, before int64) (int, error)
	    Symbols(ctx context.Context) ([]string, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Timestamps are Unix milliseconds. Range is inclusive on both ends and
returns points oldest first; points sharing a timestamp keep insertion order.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data/marketpulse"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	now := time.Now().UnixMilli()
	err = store.Append(ctx, storage.Point{Symbol: "BTCUSDT", Timestamp: now})

	// Everything from the last 30 minutes
	points, err := store.Range(ctx, "BTCUSDT", now-30*60*1000, now)

	// Retention
	evicted, err := store.EvictBefore(ctx, "BTCUSDT", now-4*60*60*1000)
*/
package storage
