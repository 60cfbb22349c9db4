package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/nicktill/marketpulse/pkg/storage"
)

func point(symbol string, ts int64, mid float64) storage.Point {
	return storage.Point{Symbol: symbol, Timestamp: ts, Mid: mid}
}

func TestMemoryStorage_AppendAndRange(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		if err := store.Append(ctx, point("BTCUSDT", 1000+i*1000, float64(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	store.Append(ctx, point("ETHUSDT", 2000, 99))

	results, err := store.Range(ctx, "BTCUSDT", 2000, 4000)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 points, got %d", len(results))
	}
	for i, p := range results {
		if p.Timestamp != int64(2000+i*1000) {
			t.Errorf("point %d: timestamp = %d", i, p.Timestamp)
		}
		if p.Symbol != "BTCUSDT" {
			t.Errorf("point %d: leaked symbol %s", i, p.Symbol)
		}
	}

	if results, _ := store.Range(ctx, "SOLUSDT", 0, 10000); len(results) != 0 {
		t.Errorf("Expected no points for unknown symbol, got %d", len(results))
	}
	if results, _ := store.Range(ctx, "BTCUSDT", 5000, 1000); len(results) != 0 {
		t.Errorf("Expected no points for inverted range, got %d", len(results))
	}
}

func TestMemoryStorage_OutOfOrderAppend(t *testing.T) {
	store := New()
	ctx := context.Background()

	store.Append(ctx, point("BTCUSDT", 3000, 3))
	store.Append(ctx, point("BTCUSDT", 1000, 1))
	store.Append(ctx, point("BTCUSDT", 2000, 2))
	store.Append(ctx, point("BTCUSDT", 2000, 22))

	results, _ := store.Range(ctx, "BTCUSDT", 0, 10000)
	want := []float64{1, 2, 22, 3}
	if len(results) != len(want) {
		t.Fatalf("Expected %d points, got %d", len(want), len(results))
	}
	for i, p := range results {
		if p.Mid != want[i] {
			t.Errorf("position %d: mid = %v, want %v", i, p.Mid, want[i])
		}
	}
}

func TestMemoryStorage_EvictBefore(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		store.Append(ctx, point("BTCUSDT", i*1000, float64(i)))
	}

	n, err := store.EvictBefore(ctx, "BTCUSDT", 4000)
	if err != nil {
		t.Fatalf("EvictBefore failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 evicted, got %d", n)
	}

	results, _ := store.Range(ctx, "BTCUSDT", 0, 20000)
	if len(results) != 7 || results[0].Timestamp != 4000 {
		t.Errorf("Unexpected remaining points: %d, first %d", len(results), results[0].Timestamp)
	}

	if n, _ := store.EvictBefore(ctx, "UNKNOWN", 4000); n != 0 {
		t.Errorf("Expected nothing evicted for unknown symbol, got %d", n)
	}
}

func TestMemoryStorage_SymbolsAndStats(t *testing.T) {
	store := New()
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalPoints != 0 || !stats.OldestPoint.IsZero() {
		t.Errorf("Expected empty stats, got %+v", stats)
	}

	store.Append(ctx, point("ETHUSDT", 5000, 1))
	store.Append(ctx, point("BTCUSDT", 1000, 1))
	store.Append(ctx, point("BTCUSDT", 9000, 1))

	symbols, _ := store.Symbols(ctx)
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("Unexpected symbols: %v", symbols)
	}

	stats, _ = store.Stats(ctx)
	if stats.TotalPoints != 3 || stats.TotalSymbols != 2 {
		t.Errorf("Unexpected counts: %+v", stats)
	}
	if stats.OldestPoint.UnixMilli() != 1000 || stats.NewestPoint.UnixMilli() != 9000 {
		t.Errorf("Unexpected bounds: %v .. %v", stats.OldestPoint, stats.NewestPoint)
	}

	// Fully evicted symbols drop out of the listing.
	store.EvictBefore(ctx, "ETHUSDT", 10000)
	symbols, _ = store.Symbols(ctx)
	if len(symbols) != 1 {
		t.Errorf("Expected 1 symbol after eviction, got %v", symbols)
	}
}

func TestMemoryStorage_ConcurrentSymbols(t *testing.T) {
	store := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := int64(0); i < 500; i++ {
				store.Append(ctx, point(sym, i, 0))
			}
		}(sym)
	}
	wg.Wait()

	stats, _ := store.Stats(ctx)
	if stats.TotalPoints != 2000 {
		t.Errorf("Expected 2000 points, got %d", stats.TotalPoints)
	}
}
