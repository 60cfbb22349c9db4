// Package rollup is the boundary toward the relational store that owns
// cycle consolidation, window statistics and the ledger. Every call is an
// idempotent black-box RPC keyed by its arguments.
package rollup

import (
	"context"
	"time"
)

// Client performs the external rollups.
type Client interface {
	// RollCycle consolidates the cycle of symbol that starts at floored.
	RollCycle(ctx context.Context, symbol string, floored time.Time) error

	// RollWindow rolls the window of symbol forward.
	RollWindow(ctx context.Context, symbol, window string) error

	// RecomputeWindowStats recomputes the statistics of a rolled window.
	RecomputeWindowStats(ctx context.Context, symbol, window string) error

	// Ledger runs periodic bookkeeping for the minute starting at at.
	Ledger(ctx context.Context, at time.Time) error
}

// Nop is a Client that does nothing. It stands in when no store is configured.
type Nop struct{}

func (Nop) RollCycle(context.Context, string, time.Time) error         { return nil }
func (Nop) RollWindow(context.Context, string, string) error           { return nil }
func (Nop) RecomputeWindowStats(context.Context, string, string) error { return nil }
func (Nop) Ledger(context.Context, time.Time) error                    { return nil }
