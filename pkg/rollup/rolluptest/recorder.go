// Package rolluptest provides an in-memory rollup.Client for tests.
package rolluptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nicktill/marketpulse/pkg/rollup"
)

// Call is one recorded rollup invocation.
type Call struct {
	Method string
	Symbol string
	Window string
	At     time.Time
}

func (c Call) String() string {
	switch c.Method {
	case "RollCycle":
		return fmt.Sprintf("RollCycle(%s,%d)", c.Symbol, c.At.UnixMilli())
	case "Ledger":
		return fmt.Sprintf("Ledger(%d)", c.At.UnixMilli())
	default:
		return fmt.Sprintf("%s(%s,%s)", c.Method, c.Symbol, c.Window)
	}
}

// Recorder records every call. Err, when set, is returned by every call
// after recording it.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	Err   error
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.Err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Strings renders the recorded calls.
func (r *Recorder) Strings() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

func (r *Recorder) RollCycle(_ context.Context, symbol string, floored time.Time) error {
	return r.record(Call{Method: "RollCycle", Symbol: symbol, At: floored})
}

func (r *Recorder) RollWindow(_ context.Context, symbol, window string) error {
	return r.record(Call{Method: "RollWindow", Symbol: symbol, Window: window})
}

func (r *Recorder) RecomputeWindowStats(_ context.Context, symbol, window string) error {
	return r.record(Call{Method: "RecomputeWindowStats", Symbol: symbol, Window: window})
}

func (r *Recorder) Ledger(_ context.Context, at time.Time) error {
	return r.record(Call{Method: "Ledger", At: at})
}

var _ rollup.Client = (*Recorder)(nil)
