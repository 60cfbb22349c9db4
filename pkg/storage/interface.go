package storage

import (
	"context"
	"time"
)

// PointStore retains sampling points per symbol.
type PointStore interface {
	// Append stores one point.
	Append(ctx context.Context, p Point) error

	// Range returns the points of symbol with from <= Timestamp <= to, oldest first.
	Range(ctx context.Context, symbol string, from, to int64) ([]Point, error)

	// EvictBefore removes points of symbol older than before and reports how many.
	EvictBefore(ctx context.Context, symbol string, before int64) (int, error)

	// Symbols lists every symbol with at least one retained point.
	Symbols(ctx context.Context) ([]string, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Stats provides storage health and usage info
type Stats struct {
	// Retained points across all symbols
	TotalPoints uint64 `json:"total_points"`

	// Symbols with at least one point
	TotalSymbols uint64 `json:"total_symbols"`

	// Storage size in bytes (estimated for memory)
	SizeBytes uint64 `json:"size_bytes"`

	OldestPoint time.Time `json:"oldest_point"`
	NewestPoint time.Time `json:"newest_point"`
}
