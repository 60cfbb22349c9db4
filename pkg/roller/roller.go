// Package roller fires external rollups on fixed intervals.
package roller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/metrics"
)

// MinInterval is the shortest interval a roller runs at.
const MinInterval = config.MinRollerInterval

// Func is one rollup invocation.
type Func func(ctx context.Context) error

// Recorder observes the outcome of each invocation.
type Recorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Roller invokes fn every interval. Invocations are not serialized: a slow
// run overlaps the next one. A failed run is logged and the next interval
// fires as usual.
type Roller struct {
	name      string
	interval  time.Duration
	fn        Func
	clock     clockwork.Clock
	log       zerolog.Logger
	recorder  Recorder
	timeout   time.Duration
	immediate bool

	inflight sync.WaitGroup
}

// Option configures a Roller.
type Option func(*Roller)

// WithClock sets the clock driving the interval.
func WithClock(c clockwork.Clock) Option {
	return func(r *Roller) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Roller) { r.log = l }
}

// WithRecorder reports each outcome to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Roller) { r.recorder = rec }
}

// WithTimeout bounds a single invocation. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Roller) { r.timeout = d }
}

// WithImmediate fires once when Run starts.
func WithImmediate() Option {
	return func(r *Roller) { r.immediate = true }
}

// New creates a roller. Intervals below MinInterval are raised to it.
func New(name string, interval time.Duration, fn Func, opts ...Option) *Roller {
	if interval < MinInterval {
		interval = MinInterval
	}
	r := &Roller{
		name:     name,
		interval: interval,
		fn:       fn,
		clock:    clockwork.NewRealClock(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the roller name.
func (r *Roller) Name() string { return r.name }

// Interval returns the effective interval.
func (r *Roller) Interval() time.Duration { return r.interval }

// Run fires until ctx is done, then waits for in-flight invocations.
// Cancelling ctx does not cancel them.
func (r *Roller) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Str("roller", r.name).Dur("interval", r.interval).Msg("roller started")

	if r.immediate {
		r.fire(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			r.inflight.Wait()
			r.log.Info().Str("roller", r.name).Msg("roller stopped")
			return
		case <-ticker.Chan():
			r.fire(ctx)
		}
	}
}

func (r *Roller) fire(parent context.Context) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		ctx := context.WithoutCancel(parent)
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		start := r.clock.Now()
		err := r.invoke(ctx)
		if err != nil {
			metrics.RollerRuns.WithLabelValues(r.name, "error").Inc()
			r.log.Error().Err(err).Str("roller", r.name).Msg("roller run failed, retrying next interval")
			if r.recorder != nil {
				r.recorder.RecordFailure(err)
			}
			return
		}
		metrics.RollerRuns.WithLabelValues(r.name, "ok").Inc()
		r.log.Debug().Str("roller", r.name).Dur("took", r.clock.Since(start)).Msg("roller run completed")
		if r.recorder != nil {
			r.recorder.RecordSuccess()
		}
	}()
}

func (r *Roller) invoke(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("roller panic: %v", p)
		}
	}()
	if r.fn == nil {
		return nil
	}
	return r.fn(ctx)
}
