package roller

import (
	"context"
	"errors"

	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/period"
	"github.com/nicktill/marketpulse/pkg/rollup"
)

// Standard roller names.
const (
	NameCycle  = "cycle"
	NameWindow = "window"
)

// CycleRoll consolidates the current cycle of every symbol. The cycle key is
// the epoch-aligned floor of now on the cycle scale.
func CycleRoll(client rollup.Client, settings *config.Settings, opts ...Option) *Roller {
	r := New(NameCycle, settings.CycleRollerInterval(), nil, opts...)
	cycle, ok := settings.ScalePeriod(config.ScaleCycle)
	if !ok {
		cycle = r.interval
	}

	r.fn = func(ctx context.Context) error {
		floor := period.Floor(r.clock.Now(), cycle)
		var errs []error
		for _, sym := range settings.Symbols() {
			if err := client.RollCycle(ctx, sym, floor); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return r
}

// WindowRoll rolls every window of every symbol, recomputing its statistics
// right after a successful roll.
func WindowRoll(client rollup.Client, settings *config.Settings, opts ...Option) *Roller {
	r := New(NameWindow, settings.WindowRollerInterval(), nil, opts...)

	r.fn = func(ctx context.Context) error {
		var errs []error
		for _, sym := range settings.Symbols() {
			for _, w := range settings.Windows {
				if err := client.RollWindow(ctx, sym, w); err != nil {
					errs = append(errs, err)
					continue
				}
				if err := client.RecomputeWindowStats(ctx, sym, w); err != nil {
					errs = append(errs, err)
				}
			}
		}
		return errors.Join(errs...)
	}
	return r
}
