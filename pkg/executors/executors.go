// Package executors binds every planner task type to the component that
// carries it out.
package executors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/clock"
	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/market"
	"github.com/nicktill/marketpulse/pkg/orchestrator"
	"github.com/nicktill/marketpulse/pkg/planner"
	"github.com/nicktill/marketpulse/pkg/rollup"
	"github.com/nicktill/marketpulse/pkg/sampling"
	"github.com/nicktill/marketpulse/pkg/storage"
)

// Collector forces one order-book collection.
type Collector interface {
	Collect(ctx context.Context, symbol string, opts sampling.CollectOptions) (storage.Point, error)
}

// Market serves reference candles and spot prices.
type Market interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Cache stores reference candles and the price matrix.
type Cache interface {
	SetKlines(ctx context.Context, symbol string, klines []market.Kline) error
	SetMatrix(ctx context.Context, quote string, prices map[string]float64) error
}

// Deps are the components executors delegate to. A nil Sampler or Market
// leaves the matching task types unregistered; a nil Rollups falls back to
// rollup.Nop. Without a Cache, fetched market data is only logged.
type Deps struct {
	Sampler Collector
	Rollups rollup.Client
	Market  Market
	Cache   Cache
	Log     zerolog.Logger
}

type executors struct {
	Deps
}

// Registry returns one executor per task type the deps can serve.
func Registry(deps Deps) orchestrator.Registry {
	if deps.Rollups == nil {
		deps.Rollups = rollup.Nop{}
	}
	e := &executors{Deps: deps}

	reg := orchestrator.Registry{
		planner.TypeRollCycle:      e.rollCycle,
		planner.TypeRollWindow:     e.rollWindow,
		planner.TypeRecomputeStats: e.recomputeStats,
		planner.TypeLedger:         e.ledger,
	}
	if deps.Sampler != nil {
		reg[planner.TypeSample] = e.sample
	}
	if deps.Market != nil {
		reg[planner.TypeReference] = e.reference
		reg[planner.TypeMatrix] = e.matrix
	}
	return reg
}

func unexpected(task planner.Task) error {
	return fmt.Errorf("unexpected task %T", task)
}

func (e *executors) sample(ctx context.Context, task planner.Task, _ clock.Tick, _ *config.Settings) error {
	t, ok := task.(planner.SampleTask)
	if !ok {
		return unexpected(task)
	}
	var errs []error
	for _, sym := range t.Symbols {
		if _, err := e.Sampler.Collect(ctx, sym, sampling.CollectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("sample %s: %w", sym, err))
		}
	}
	return errors.Join(errs...)
}

func (e *executors) rollCycle(ctx context.Context, task planner.Task, _ clock.Tick, _ *config.Settings) error {
	t, ok := task.(planner.RollCycleTask)
	if !ok {
		return unexpected(task)
	}
	return e.Rollups.RollCycle(ctx, t.Symbol, t.Floor)
}

func (e *executors) rollWindow(ctx context.Context, task planner.Task, _ clock.Tick, _ *config.Settings) error {
	t, ok := task.(planner.RollWindowTask)
	if !ok {
		return unexpected(task)
	}
	return e.Rollups.RollWindow(ctx, t.Symbol, t.Window)
}

func (e *executors) recomputeStats(ctx context.Context, task planner.Task, _ clock.Tick, _ *config.Settings) error {
	t, ok := task.(planner.RecomputeStatsTask)
	if !ok {
		return unexpected(task)
	}
	return e.Rollups.RecomputeWindowStats(ctx, t.Symbol, t.Window)
}

func (e *executors) ledger(ctx context.Context, task planner.Task, _ clock.Tick, _ *config.Settings) error {
	t, ok := task.(planner.LedgerTask)
	if !ok {
		return unexpected(task)
	}
	return e.Rollups.Ledger(ctx, t.At)
}

func (e *executors) reference(ctx context.Context, task planner.Task, _ clock.Tick, _ *config.Settings) error {
	t, ok := task.(planner.ReferenceTask)
	if !ok {
		return unexpected(task)
	}
	var errs []error
	for _, sym := range t.Symbols {
		klines, err := e.Market.Klines(ctx, sym, t.Interval, t.Limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("klines %s: %w", sym, err))
			continue
		}
		if e.Cache == nil {
			e.Log.Debug().Str("symbol", sym).Int("klines", len(klines)).Msg("reference fetched, no cache configured")
			continue
		}
		if err := e.Cache.SetKlines(ctx, sym, klines); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *executors) matrix(ctx context.Context, task planner.Task, _ clock.Tick, _ *config.Settings) error {
	t, ok := task.(planner.MatrixTask)
	if !ok {
		return unexpected(task)
	}
	quote := strings.ToUpper(t.Quote)
	symbols := make([]string, 0, len(t.Bases))
	for _, b := range t.Bases {
		symbols = append(symbols, strings.ToUpper(b)+quote)
	}

	prices, err := e.Market.Prices(ctx, symbols)
	if err != nil {
		return fmt.Errorf("prices: %w", err)
	}
	if e.Cache == nil {
		e.Log.Debug().Int("prices", len(prices)).Msg("matrix fetched, no cache configured")
		return nil
	}
	return e.Cache.SetMatrix(ctx, quote, prices)
}
