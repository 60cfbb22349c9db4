package planner

import (
	"github.com/nicktill/marketpulse/pkg/clock"
	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/period"
)

// PlanTasksForTick returns the tasks to run for tick, in execution order.
//
// It performs no I/O and is deterministic in (tick, settings). A tick whose
// period differs from the configured period of its scale, or a tick of an
// unknown scale, plans to nil.
func PlanTasksForTick(tick clock.Tick, settings *config.Settings) []Task {
	if settings == nil {
		return nil
	}
	configured, ok := settings.ScalePeriod(tick.Scale)
	if !ok || configured.Milliseconds() != tick.PeriodMs {
		return nil
	}

	symbols := settings.Symbols()

	switch tick.Scale {
	case config.ScaleContinuous:
		return []Task{MatrixTask{
			Bases: append([]string(nil), settings.Bases...),
			Quote: settings.Quote,
		}}

	case config.ScaleSampling:
		if len(symbols) == 0 {
			return nil
		}
		return []Task{SampleTask{Symbols: symbols}}

	case config.ScaleCycle:
		floor := period.Floor(tick.Time(), configured)
		tasks := make([]Task, 0, len(symbols))
		for _, sym := range symbols {
			tasks = append(tasks, RollCycleTask{Symbol: sym, Floor: floor})
		}
		return tasks

	case config.ScaleWindow:
		tasks := make([]Task, 0, 2*len(symbols)*len(settings.Windows))
		for _, sym := range symbols {
			for _, w := range settings.Windows {
				tasks = append(tasks,
					RollWindowTask{Symbol: sym, Window: w},
					RecomputeStatsTask{Symbol: sym, Window: w},
				)
			}
		}
		return tasks

	case config.ScaleReference:
		return []Task{ReferenceTask{
			Symbols:  symbols,
			Interval: settings.Market.KlineInterval,
			Limit:    settings.Market.KlineLimit,
		}}

	case config.ScaleLoop:
		return []Task{LedgerTask{At: period.Floor(tick.Time(), configured)}}
	}

	return nil
}
