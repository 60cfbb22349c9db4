package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/marketpulse/pkg/storage"
	"github.com/nicktill/marketpulse/pkg/storage/memory"
)

func newStore(t *testing.T) *Storage {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func samplePoint(symbol string, ts int64) storage.Point {
	return storage.NewPoint(symbol, ts, ts-ts%1000, ts-ts%1000+1000,
		[]storage.Level{{Price: 100, Qty: float64(ts % 7)}},
		[]storage.Level{{Price: 101, Qty: 1}},
	)
}

func TestBadgerStorage_AppendAndRange(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := int64(0); i < 10; i++ {
		require.NoError(t, store.Append(ctx, samplePoint("BTCUSDT", 1_700_000_000_000+i*1000)))
	}
	require.NoError(t, store.Append(ctx, samplePoint("ETHUSDT", 1_700_000_003_000)))

	results, err := store.Range(ctx, "BTCUSDT", 1_700_000_002_000, 1_700_000_004_000)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, p := range results {
		assert.Equal(t, "BTCUSDT", p.Symbol)
		assert.Equal(t, int64(1_700_000_002_000+i*1000), p.Timestamp)
	}
	assert.Equal(t, samplePoint("BTCUSDT", 1_700_000_002_000), results[0])

	empty, err := store.Range(ctx, "BTCUSDT", 10, 1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBadgerStorage_SameTimestampKeepsInsertionOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p := samplePoint("BTCUSDT", 5000)
		p.Mid = float64(i)
		require.NoError(t, store.Append(ctx, p))
	}

	results, err := store.Range(ctx, "BTCUSDT", 5000, 5000)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, p := range results {
		assert.Equal(t, float64(i), p.Mid)
	}
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, samplePoint("BTCUSDT", 42_000)))
	require.NoError(t, store.Close())

	store, err = New(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	results, err := store.Range(ctx, "BTCUSDT", 0, 100_000)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(42_000), results[0].Timestamp)

	// Appends after reopening sort after existing points with the same timestamp.
	require.NoError(t, store.Append(ctx, samplePoint("BTCUSDT", 42_000)))
	results, err = store.Range(ctx, "BTCUSDT", 0, 100_000)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestBadgerStorage_EvictBefore(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, store.Append(ctx, samplePoint("BTCUSDT", i*1000)))
		require.NoError(t, store.Append(ctx, samplePoint("ETHUSDT", i*1000)))
	}

	n, err := store.EvictBefore(ctx, "BTCUSDT", 4000)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	btc, err := store.Range(ctx, "BTCUSDT", 0, 20_000)
	require.NoError(t, err)
	require.Len(t, btc, 7)
	assert.Equal(t, int64(4000), btc[0].Timestamp)

	eth, err := store.Range(ctx, "ETHUSDT", 0, 20_000)
	require.NoError(t, err)
	assert.Len(t, eth, 10, "eviction must not touch other symbols")
}

func TestBadgerStorage_SymbolsAndStats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, samplePoint("ETHUSDT", 5000)))
	require.NoError(t, store.Append(ctx, samplePoint("BTCUSDT", 1000)))
	require.NoError(t, store.Append(ctx, samplePoint("BTCUSDT", 9000)))

	symbols, err := store.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.TotalPoints)
	assert.Equal(t, uint64(2), stats.TotalSymbols)
	assert.Equal(t, int64(1000), stats.OldestPoint.UnixMilli())
	assert.Equal(t, int64(9000), stats.NewestPoint.UnixMilli())

	_, err = store.EvictBefore(ctx, "ETHUSDT", 10_000)
	require.NoError(t, err)
	symbols, err = store.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, symbols)
}

func TestBadgerStorage_MatchesMemory(t *testing.T) {
	ctx := context.Background()
	b := newStore(t)
	m := memory.New()

	timestamps := []int64{3000, 1000, 2000, 2000, 7000, 5000, 6000, 4000}
	for i, ts := range timestamps {
		for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
			p := samplePoint(sym, ts)
			p.Mid = float64(i)
			require.NoError(t, b.Append(ctx, p))
			require.NoError(t, m.Append(ctx, p))
		}
	}

	ranges := [][2]int64{{0, 10_000}, {2000, 2000}, {2500, 5500}, {8000, 9000}}
	for _, r := range ranges {
		t.Run(fmt.Sprintf("%d-%d", r[0], r[1]), func(t *testing.T) {
			want, err := m.Range(ctx, "BTCUSDT", r[0], r[1])
			require.NoError(t, err)
			got, err := b.Range(ctx, "BTCUSDT", r[0], r[1])
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Append(ctx, samplePoint("BTCUSDT", 1)), context.Canceled)
	_, err := store.Range(ctx, "BTCUSDT", 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyOrdering(t *testing.T) {
	hash, ts, seq := parseKey(makeKey("BTCUSDT", -5, 9))
	assert.Equal(t, int64(-5), ts)
	assert.Equal(t, uint64(9), seq)
	assert.NotZero(t, hash)

	a := makeKey("BTCUSDT", -1, 0)
	b := makeKey("BTCUSDT", 1, 0)
	assert.Less(t, string(a), string(b))
}
