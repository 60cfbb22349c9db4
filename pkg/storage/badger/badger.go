package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/marketpulse/pkg/storage"
)

const (
	pointPrefix  byte = 'p'
	symbolPrefix byte = 's'

	// [prefix (1)][symbol hash (8)][timestamp (8)][sequence (8)]
	pointKeyLen = 25

	ctxCheckEvery = 1000
)

// Storage implements storage.PointStore using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq atomic.Uint64
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total.
	// Default here is 48 MB total (16 MB memtable + caches).
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of the 2 GB default

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &Storage{db: db}
	// Sequence numbers only break timestamp ties; seeding from the wall clock
	// keeps them increasing across restarts.
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

// run executes fn in its own goroutine and gives up waiting when ctx ends.
func run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

func checkCtx(ctx context.Context, n int) error {
	if n%ctxCheckEvery != 0 {
		return nil
	}
	return ctx.Err()
}

// Append stores one point
func (s *Storage) Append(ctx context.Context, p storage.Point) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode point: %w", err)
	}
	key := makeKey(p.Symbol, p.Timestamp, s.seq.Add(1))

	return run(ctx, "append", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set(key, value); err != nil {
				return fmt.Errorf("failed to write point: %w", err)
			}
			return txn.Set(symbolKey(p.Symbol), nil)
		})
	})
}

// Range retrieves points of symbol in [from, to], oldest first
func (s *Storage) Range(ctx context.Context, symbol string, from, to int64) ([]storage.Point, error) {
	if from > to {
		return nil, nil
	}

	var results []storage.Point
	err := run(ctx, "range", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = seriesPrefix(symbol)
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			n := 0
			for it.Seek(makeKey(symbol, from, 0)); it.Valid(); it.Next() {
				n++
				if err := checkCtx(ctx, n); err != nil {
					return err
				}

				item := it.Item()
				if _, ts, _ := parseKey(item.Key()); ts > to {
					break
				}

				var p storage.Point
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &p)
				}); err != nil {
					return fmt.Errorf("failed to decode point: %w", err)
				}
				// Hash collision guard.
				if p.Symbol != symbol {
					continue
				}
				results = append(results, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// EvictBefore removes points of symbol older than before
func (s *Storage) EvictBefore(ctx context.Context, symbol string, before int64) (int, error) {
	var evicted int
	err := run(ctx, "evict", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = seriesPrefix(symbol)

			it := txn.NewIterator(opts)
			defer it.Close()

			var keysToDelete [][]byte
			n := 0
			for it.Rewind(); it.Valid(); it.Next() {
				n++
				if err := checkCtx(ctx, n); err != nil {
					return err
				}

				item := it.Item()
				if _, ts, _ := parseKey(item.Key()); ts >= before {
					break
				}

				var p storage.Point
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &p)
				}); err != nil {
					return fmt.Errorf("failed to decode point: %w", err)
				}
				if p.Symbol != symbol {
					continue
				}
				keysToDelete = append(keysToDelete, item.KeyCopy(nil))
			}

			for _, key := range keysToDelete {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			evicted = len(keysToDelete)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return evicted, nil
}

// Symbols lists symbols that still hold points, sorted.
func (s *Storage) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	err := run(ctx, "symbols", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte{symbolPrefix}
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				symbol := string(it.Item().Key()[1:])
				if hasPoints(txn, symbol) {
					out = append(out, symbol)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func hasPoints(txn *badger.Txn, symbol string) bool {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = seriesPrefix(symbol)
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	err := run(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte{pointPrefix}
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			series := make(map[uint64]struct{})
			var oldest, newest int64
			n := 0
			for it.Rewind(); it.Valid(); it.Next() {
				n++
				if err := checkCtx(ctx, n); err != nil {
					return err
				}

				hash, ts, _ := parseKey(it.Item().Key())
				series[hash] = struct{}{}
				if n == 1 || ts < oldest {
					oldest = ts
				}
				if n == 1 || ts > newest {
					newest = ts
				}
			}

			stats.TotalPoints = uint64(n)
			stats.TotalSymbols = uint64(len(series))
			if n > 0 {
				stats.OldestPoint = time.UnixMilli(oldest).UTC()
				stats.NewestPoint = time.UnixMilli(newest).UTC()
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

func seriesPrefix(symbol string) []byte {
	key := make([]byte, 9)
	key[0] = pointPrefix
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(symbol))
	return key
}

// makeKey creates a sortable key: prefix + symbol hash + timestamp + sequence.
// The timestamp sign bit is flipped so negative values sort first.
func makeKey(symbol string, tsMs int64, seq uint64) []byte {
	key := make([]byte, pointKeyLen)
	copy(key, seriesPrefix(symbol))
	binary.BigEndian.PutUint64(key[9:17], uint64(tsMs)^(1<<63))
	binary.BigEndian.PutUint64(key[17:25], seq)
	return key
}

// parseKey extracts the symbol hash, timestamp and sequence from a point key
func parseKey(key []byte) (uint64, int64, uint64) {
	if len(key) != pointKeyLen || key[0] != pointPrefix {
		return 0, 0, 0
	}
	hash := binary.BigEndian.Uint64(key[1:9])
	ts := int64(binary.BigEndian.Uint64(key[9:17]) ^ (1 << 63))
	seq := binary.BigEndian.Uint64(key[17:25])
	return hash, ts, seq
}

func symbolKey(symbol string) []byte {
	return append([]byte{symbolPrefix}, symbol...)
}

var _ storage.PointStore = (*Storage)(nil)
