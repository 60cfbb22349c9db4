package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/ingest"
	"github.com/nicktill/marketpulse/pkg/market"
	"github.com/nicktill/marketpulse/pkg/roller"
	"github.com/nicktill/marketpulse/pkg/rollup"
	"github.com/nicktill/marketpulse/pkg/rollup/postgres"
	"github.com/nicktill/marketpulse/pkg/server/monitor"
	"github.com/nicktill/marketpulse/pkg/sink"
	"github.com/nicktill/marketpulse/pkg/storage"
	"github.com/nicktill/marketpulse/pkg/storage/badger"
	"github.com/nicktill/marketpulse/pkg/storage/memory"
)

// InitializeStorage opens the configured point store and a monitor for its size.
func InitializeStorage(s *config.Settings, log zerolog.Logger) (storage.PointStore, *monitor.StorageMonitor, error) {
	maxBytes := s.Storage.MaxStorageGB << 30

	if s.Storage.Backend != "badger" {
		store := memory.New()
		log.Info().Msg("in-memory point storage initialized")
		return store, monitor.NewPointStoreMonitor(store, maxBytes), nil
	}

	if err := os.MkdirAll(s.Storage.Path, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := badger.New(badger.Config{
		Path:        s.Storage.Path,
		MaxMemoryMB: s.Storage.MaxMemoryMB,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("path", s.Storage.Path).Int64("max_memory_mb", s.Storage.MaxMemoryMB).Msg("BadgerDB point storage initialized")
	return store, monitor.NewStorageMonitor(s.Storage.Path, maxBytes), nil
}

// InitializeRollups connects to Postgres when a DSN is configured. Without
// one every rollup is a no-op. The returned close func is never nil.
func InitializeRollups(ctx context.Context, s *config.Settings, log zerolog.Logger) (rollup.Client, func() error, error) {
	if s.Postgres.DSN == "" {
		log.Warn().Msg("no postgres DSN configured, rollups disabled")
		return rollup.Nop{}, func() error { return nil }, nil
	}
	client, err := postgres.Open(ctx, postgres.Config{
		DSN:          s.Postgres.DSN,
		MaxOpenConns: s.Postgres.MaxOpenConns,
		MaxIdleConns: s.Postgres.MaxIdleConns,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().Msg("postgres rollup client connected")
	return client, client.Close, nil
}

// InitializeCache connects to Redis when an address is configured and
// returns nil otherwise.
func InitializeCache(ctx context.Context, s *config.Settings, log zerolog.Logger) (*market.Cache, error) {
	if s.Redis.Addr == "" {
		log.Warn().Msg("no redis address configured, reference data is not cached")
		return nil, nil
	}
	cache := market.NewCache(market.CacheConfig{
		Addr:     s.Redis.Addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
		Prefix:   config.RedisKeyPrefix,
		TTL:      s.RedisTTL(),
	})
	if err := cache.Ping(ctx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("addr", s.Redis.Addr).Msg("redis cache connected")
	return cache, nil
}

// InitializeSink fans flushes out to the live stream and, when configured,
// the HTTP sink.
func InitializeSink(s *config.Settings, stream *ingest.FlushHub, log zerolog.Logger) sink.Sink {
	sinks := sink.Multi{stream}
	if s.Sink.URL != "" {
		sinks = append(sinks, sink.NewHTTP(s.Sink.URL, s.SinkTimeout()))
		log.Info().Str("url", s.Sink.URL).Msg("bucket flushes posted to HTTP sink")
	}
	return sinks
}

// InitializeRollers builds the cycle and window rollers, each reporting to
// its own health monitor. Both are empty when rollers are disabled.
func InitializeRollers(client rollup.Client, s *config.Settings, clock clockwork.Clock, log zerolog.Logger) ([]*roller.Roller, []*monitor.RollerMonitor) {
	if !s.Rollers.Enabled {
		log.Info().Msg("rollers disabled")
		return nil, nil
	}

	cycleMon := monitor.NewRollerMonitor(roller.NameCycle, clampInterval(s.CycleRollerInterval()), clock)
	windowMon := monitor.NewRollerMonitor(roller.NameWindow, clampInterval(s.WindowRollerInterval()), clock)

	common := []roller.Option{
		roller.WithClock(clock),
		roller.WithLogger(log),
		roller.WithTimeout(config.RollerRunTimeout),
		roller.WithImmediate(),
	}
	cycle := roller.CycleRoll(client, s, append(common, roller.WithRecorder(cycleMon))...)
	window := roller.WindowRoll(client, s, append(common, roller.WithRecorder(windowMon))...)

	log.Info().
		Dur("cycle_interval", cycle.Interval()).
		Dur("window_interval", window.Interval()).
		Msg("rollers ready")
	return []*roller.Roller{cycle, window}, []*monitor.RollerMonitor{cycleMon, windowMon}
}

func clampInterval(d time.Duration) time.Duration {
	if d < roller.MinInterval {
		return roller.MinInterval
	}
	return d
}
