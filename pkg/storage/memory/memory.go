package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/marketpulse/pkg/storage"
)

var _ storage.PointStore = (*Storage)(nil)

// approxPointBytes is the size estimate of a point without its levels.
const approxPointBytes = 128

// Storage stores points in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	series sync.Map // symbol -> *series
}

type series struct {
	mu     sync.RWMutex
	points []storage.Point
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{}
}

func (s *Storage) get(symbol string) (*series, bool) {
	v, ok := s.series.Load(symbol)
	if !ok {
		return nil, false
	}
	return v.(*series), true
}

// Append stores a point, keeping the series sorted by timestamp.
func (s *Storage) Append(ctx context.Context, p storage.Point) error {
	v, _ := s.series.LoadOrStore(p.Symbol, &series{})
	sr := v.(*series)

	sr.mu.Lock()
	defer sr.mu.Unlock()

	n := len(sr.points)
	if n == 0 || sr.points[n-1].Timestamp <= p.Timestamp {
		sr.points = append(sr.points, p)
		return nil
	}

	// Out-of-order point: insert after every point with an equal timestamp.
	i := sort.Search(n, func(i int) bool { return sr.points[i].Timestamp > p.Timestamp })
	sr.points = append(sr.points, storage.Point{})
	copy(sr.points[i+1:], sr.points[i:])
	sr.points[i] = p
	return nil
}

// Range retrieves points of symbol in [from, to], oldest first
func (s *Storage) Range(ctx context.Context, symbol string, from, to int64) ([]storage.Point, error) {
	sr, ok := s.get(symbol)
	if !ok || from > to {
		return nil, nil
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	lo := sort.Search(len(sr.points), func(i int) bool { return sr.points[i].Timestamp >= from })
	hi := sort.Search(len(sr.points), func(i int) bool { return sr.points[i].Timestamp > to })
	if lo >= hi {
		return nil, nil
	}
	return append([]storage.Point(nil), sr.points[lo:hi]...), nil
}

// EvictBefore removes points of symbol older than before
func (s *Storage) EvictBefore(ctx context.Context, symbol string, before int64) (int, error) {
	sr, ok := s.get(symbol)
	if !ok {
		return 0, nil
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	n := sort.Search(len(sr.points), func(i int) bool { return sr.points[i].Timestamp >= before })
	if n == 0 {
		return 0, nil
	}
	remaining := make([]storage.Point, len(sr.points)-n)
	copy(remaining, sr.points[n:])
	sr.points = remaining
	return n, nil
}

// Symbols lists symbols that still hold points, sorted.
func (s *Storage) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	s.series.Range(func(k, v interface{}) bool {
		sr := v.(*series)
		sr.mu.RLock()
		if len(sr.points) > 0 {
			out = append(out, k.(string))
		}
		sr.mu.RUnlock()
		return true
	})
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	var oldest, newest int64
	first := true

	s.series.Range(func(_, v interface{}) bool {
		sr := v.(*series)
		sr.mu.RLock()
		defer sr.mu.RUnlock()

		if len(sr.points) == 0 {
			return true
		}
		stats.TotalSymbols++
		stats.TotalPoints += uint64(len(sr.points))
		for _, p := range sr.points {
			stats.SizeBytes += approxPointBytes + uint64(len(p.Book.Bids)+len(p.Book.Asks))*16
		}

		lo, hi := sr.points[0].Timestamp, sr.points[len(sr.points)-1].Timestamp
		if first || lo < oldest {
			oldest = lo
		}
		if first || hi > newest {
			newest = hi
		}
		first = false
		return true
	})

	if !first {
		stats.OldestPoint = time.UnixMilli(oldest).UTC()
		stats.NewestPoint = time.UnixMilli(newest).UTC()
	}
	return stats, nil
}
