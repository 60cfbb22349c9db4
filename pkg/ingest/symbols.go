package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// MaxUniqueSymbols bounds the symbols accepted over HTTP.
	MaxUniqueSymbols = 1000

	// Symbols not seen for this long stop counting toward the limit.
	symbolRetentionPeriod = 24 * time.Hour

	// Run cleanup at most this often
	cleanupInterval = 1 * time.Hour
)

// ErrSymbolLimit is returned when a new symbol would exceed MaxUniqueSymbols
var ErrSymbolLimit = fmt.Errorf("symbol limit exceeded (max %d unique symbols)", MaxUniqueSymbols)

// SymbolTracker tracks the symbols ingested recently so that a client cannot
// grow per-symbol state without bound. Idle symbols are forgotten after a day.
type SymbolTracker struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	limit       int
	seen        map[string]time.Time // symbol -> last seen
	lastCleanup time.Time
}

// NewSymbolTracker creates a tracker with the given limit (<= 0 means MaxUniqueSymbols).
func NewSymbolTracker(limit int, clock clockwork.Clock) *SymbolTracker {
	if limit <= 0 {
		limit = MaxUniqueSymbols
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SymbolTracker{
		clock:       clock,
		limit:       limit,
		seen:        make(map[string]time.Time),
		lastCleanup: clock.Now(),
	}
}

// Check validates that accepting symbol won't exceed the limit.
func (t *SymbolTracker) Check(symbol string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupLocked()

	if _, ok := t.seen[symbol]; ok {
		return nil
	}
	if len(t.seen) >= t.limit {
		return ErrSymbolLimit
	}
	return nil
}

// Record marks symbol as seen. Call it after Check passed and the tick was stored.
func (t *SymbolTracker) Record(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[symbol] = t.clock.Now()
}

// cleanupLocked drops symbols idle for longer than symbolRetentionPeriod.
// MUST be called with lock held
func (t *SymbolTracker) cleanupLocked() {
	now := t.clock.Now()
	if now.Sub(t.lastCleanup) < cleanupInterval {
		return
	}
	t.lastCleanup = now

	cutoff := now.Add(-symbolRetentionPeriod)
	for sym, lastSeen := range t.seen {
		if lastSeen.Before(cutoff) {
			delete(t.seen, sym)
		}
	}
}

// SymbolStats provides symbol usage information
type SymbolStats struct {
	Symbols        int     `json:"symbols"`
	Limit          int     `json:"limit"`
	UtilizationPct float64 `json:"utilization_percent"`
}

// Stats returns current usage.
func (t *SymbolTracker) Stats() SymbolStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return SymbolStats{
		Symbols:        len(t.seen),
		Limit:          t.limit,
		UtilizationPct: float64(len(t.seen)) / float64(t.limit) * 100,
	}
}
