// Package sampling turns raw order-book ticks into fixed-width buckets per
// symbol and retains the individual observations as points.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/metrics"
	"github.com/nicktill/marketpulse/pkg/period"
	"github.com/nicktill/marketpulse/pkg/sink"
	"github.com/nicktill/marketpulse/pkg/storage"
)

var (
	// ErrNoSource is returned by Collect without a point when no depth source is configured.
	ErrNoSource = errors.New("no depth source configured")
	// ErrEmptySymbol is returned for an empty symbol.
	ErrEmptySymbol = errors.New("symbol is required")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sampling store closed")
)

// DepthSource fetches a current order-book snapshot.
type DepthSource interface {
	Depth(ctx context.Context, symbol string, limit int) (storage.Book, error)
}

// Config holds the sampling parameters.
type Config struct {
	// Step is the bucket width. Defaults to 1s.
	Step time.Duration

	// Retention bounds how long points are kept (0 = forever).
	Retention time.Duration

	// DepthLimit is passed to the depth source on collection.
	DepthLimit int

	// SinkTimeout bounds one flush delivery. Defaults to 5s.
	SinkTimeout time.Duration
}

// Store is the per-symbol bucketed accumulator.
type Store struct {
	cfg    Config
	points storage.PointStore
	sink   sink.Sink
	source DepthSource
	clock  clockwork.Clock
	log    zerolog.Logger

	symbols sync.Map // symbol -> *symbolState
	flushes sync.WaitGroup
	closed  atomic.Bool
}

type symbolState struct {
	mu   sync.Mutex
	open *bucket
}

// bucket is append-only while open and immutable once handed to flush.
type bucket struct {
	symbol string
	start  int64
	end    int64
	bids   []storage.Level
	asks   []storage.Level
	ticks  int
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for "now".
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithSink sets where bucket flushes go. Defaults to sink.Discard.
func WithSink(k sink.Sink) Option {
	return func(s *Store) {
		if k != nil {
			s.sink = k
		}
	}
}

// WithSource sets the depth source used by Collect.
func WithSource(src DepthSource) Option {
	return func(s *Store) { s.source = src }
}

// New creates a store retaining points in points.
func New(points storage.PointStore, cfg Config, opts ...Option) *Store {
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	s := &Store{
		cfg:    cfg,
		points: points,
		sink:   sink.Discard,
		clock:  clockwork.NewRealClock(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) state(symbol string) *symbolState {
	if v, ok := s.symbols.Load(symbol); ok {
		return v.(*symbolState)
	}
	v, _ := s.symbols.LoadOrStore(symbol, &symbolState{})
	return v.(*symbolState)
}

// Ingest appends one tick to the open bucket of symbol. When tsMs falls in a
// different step than the open bucket, that bucket is flushed in the
// background and a new one starting at floor(tsMs/step)*step takes its place.
// The tick is retained as a point when it carries at least one level.
func (s *Store) Ingest(ctx context.Context, symbol string, bids, asks []storage.Level, tsMs int64) (storage.Point, error) {
	if symbol == "" {
		return storage.Point{}, ErrEmptySymbol
	}
	if s.closed.Load() {
		return storage.Point{}, ErrClosed
	}

	stepMs := s.cfg.Step.Milliseconds()
	start := period.FloorMs(tsMs, stepMs)
	end := start + stepMs

	st := s.state(symbol)
	st.mu.Lock()
	// Close may have drained this symbol while we waited for the lock.
	if s.closed.Load() {
		st.mu.Unlock()
		return storage.Point{}, ErrClosed
	}
	if st.open == nil || st.open.end != end {
		if prev := st.open; prev != nil {
			s.flushAsync(prev)
		}
		st.open = &bucket{symbol: symbol, start: start, end: end}
	}
	b := st.open
	b.bids = append(b.bids, bids...)
	b.asks = append(b.asks, asks...)
	b.ticks++
	st.mu.Unlock()

	metrics.IngestTicks.WithLabelValues(symbol).Inc()

	p := storage.NewPoint(symbol, tsMs, start, end, bids, asks)
	if p.Empty() {
		return p, nil
	}
	if err := s.points.Append(ctx, p); err != nil {
		return p, fmt.Errorf("retain point: %w", err)
	}

	if s.cfg.Retention > 0 {
		cutoff := s.clock.Now().Add(-s.cfg.Retention).UnixMilli()
		if _, err := s.points.EvictBefore(ctx, symbol, cutoff); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("point eviction failed")
		}
	}
	return p, nil
}

// GetPoints returns the retained points of symbol no older than the span of
// window, oldest first.
func (s *Store) GetPoints(ctx context.Context, symbol, window string) ([]storage.Point, error) {
	span, err := period.Resolve(window)
	if err != nil {
		return nil, fmt.Errorf("window %q: %w", window, err)
	}
	from := s.clock.Now().Add(-span).UnixMilli()
	points, err := s.points.Range(ctx, symbol, from, math.MaxInt64)
	if err != nil {
		return nil, fmt.Errorf("read points: %w", err)
	}
	return points, nil
}

// CollectOptions controls one forced collection.
type CollectOptions struct {
	// Point, when set, is ingested as is instead of fetching from the source.
	// A zero Timestamp means now.
	Point *storage.Point
}

// Collect forces one observation of symbol: the explicit point if given,
// otherwise a fresh snapshot from the depth source.
func (s *Store) Collect(ctx context.Context, symbol string, opts CollectOptions) (storage.Point, error) {
	if p := opts.Point; p != nil {
		ts := p.Timestamp
		if ts == 0 {
			ts = s.clock.Now().UnixMilli()
		}
		return s.Ingest(ctx, symbol, p.Book.Bids, p.Book.Asks, ts)
	}

	if s.source == nil {
		return storage.Point{}, ErrNoSource
	}
	book, err := s.source.Depth(ctx, symbol, s.cfg.DepthLimit)
	if err != nil {
		return storage.Point{}, fmt.Errorf("fetch depth %s: %w", symbol, err)
	}
	return s.Ingest(ctx, symbol, book.Bids, book.Asks, s.clock.Now().UnixMilli())
}

// Wait blocks until every flush started so far has finished.
func (s *Store) Wait() {
	s.flushes.Wait()
}

// Close flushes every open bucket and waits for all deliveries. Ingest fails
// with ErrClosed afterwards. The point store is not closed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.symbols.Range(func(_, v interface{}) bool {
		st := v.(*symbolState)
		st.mu.Lock()
		if st.open != nil {
			s.flushAsync(st.open)
			st.open = nil
		}
		st.mu.Unlock()
		return true
	})
	s.flushes.Wait()
	return nil
}

// flushAsync hands b to a detached goroutine. Delivery failures are logged
// and dropped.
func (s *Store) flushAsync(b *bucket) {
	s.flushes.Add(1)
	go func() {
		defer s.flushes.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.BucketFlushes.WithLabelValues("error").Inc()
				s.log.Error().Interface("panic", r).Str("symbol", b.symbol).Msg("flush panicked")
			}
		}()
		s.flush(b)
	}()
}

func (s *Store) flush(b *bucket) {
	if len(b.bids) == 0 && len(b.asks) == 0 {
		metrics.BucketFlushes.WithLabelValues("empty").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SinkTimeout)
	defer cancel()

	f := sink.Flush{
		ID:          uuid.NewString(),
		Symbol:      b.symbol,
		Timestamp:   time.UnixMilli(b.start).UTC(),
		BucketStart: b.start,
		BucketEnd:   b.end,
		Metrics:     Summarize(b.bids, b.asks, b.ticks),
	}
	if err := s.sink.Send(ctx, f); err != nil {
		metrics.BucketFlushes.WithLabelValues("error").Inc()
		s.log.Debug().Err(err).Str("symbol", b.symbol).Int64("bucket", b.start).Msg("flush delivery failed")
		return
	}
	metrics.BucketFlushes.WithLabelValues("ok").Inc()
}
