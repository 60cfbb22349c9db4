// Package planner maps a tick and the current settings to the ordered list of
// tasks that must run for it.
package planner

import "time"

// TaskType identifies the executor responsible for a task.
type TaskType string

const (
	TypeMatrix         TaskType = "matrix"
	TypeSample         TaskType = "sample"
	TypeRollCycle      TaskType = "roll_cycle"
	TypeRollWindow     TaskType = "roll_window"
	TypeRecomputeStats TaskType = "recompute_stats"
	TypeReference      TaskType = "reference"
	TypeLedger         TaskType = "ledger"
)

// AllTypes lists every task type the planner can emit.
var AllTypes = []TaskType{
	TypeMatrix,
	TypeSample,
	TypeRollCycle,
	TypeRollWindow,
	TypeRecomputeStats,
	TypeReference,
	TypeLedger,
}

// Task is a sealed sum type: only the variants in this file implement it.
type Task interface {
	Type() TaskType
	task()
}

// MatrixTask refreshes the live price matrix of every base against the quote asset.
type MatrixTask struct {
	Bases []string
	Quote string
}

// SampleTask forces one order-book collection per symbol.
type SampleTask struct {
	Symbols []string
}

// RollCycleTask consolidates one cycle of a symbol. Floor is the
// epoch-aligned cycle start and doubles as the idempotency key.
type RollCycleTask struct {
	Symbol string
	Floor  time.Time
}

// RollWindowTask rolls a symbol's analysis window forward.
type RollWindowTask struct {
	Symbol string
	Window string
}

// RecomputeStatsTask recomputes the statistics of a rolled window.
type RecomputeStatsTask struct {
	Symbol string
	Window string
}

// ReferenceTask refreshes reference OHLCV candles.
type ReferenceTask struct {
	Symbols  []string
	Interval string
	Limit    int
}

// LedgerTask runs the periodic ledger bookkeeping call.
type LedgerTask struct {
	At time.Time
}

func (MatrixTask) Type() TaskType         { return TypeMatrix }
func (SampleTask) Type() TaskType         { return TypeSample }
func (RollCycleTask) Type() TaskType      { return TypeRollCycle }
func (RollWindowTask) Type() TaskType     { return TypeRollWindow }
func (RecomputeStatsTask) Type() TaskType { return TypeRecomputeStats }
func (ReferenceTask) Type() TaskType      { return TypeReference }
func (LedgerTask) Type() TaskType         { return TypeLedger }

func (MatrixTask) task()         {}
func (SampleTask) task()         {}
func (RollCycleTask) task()      {}
func (RollWindowTask) task()     {}
func (RecomputeStatsTask) task() {}
func (ReferenceTask) task()      {}
func (LedgerTask) task()         {}
