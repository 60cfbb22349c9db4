// Package orchestrator bridges hub ticks to registered task executors.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/clock"
	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/metrics"
	"github.com/nicktill/marketpulse/pkg/planner"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("orchestrator already started")

// Executor runs one task. Executors for different ticks may run concurrently
// and must tolerate overlap.
type Executor func(ctx context.Context, task planner.Task, tick clock.Tick, settings *config.Settings) error

// Registry maps task types to executors. It is read-only once handed to New.
type Registry map[planner.TaskType]Executor

// PlanFunc plans the tasks of a tick.
type PlanFunc func(tick clock.Tick, settings *config.Settings) []planner.Task

// Orchestrator consumes one tick sequence per scale. Tasks of a single tick
// run one at a time in planner order; task chains of different ticks are
// not serialized against each other.
type Orchestrator struct {
	hub      *clock.Hub
	settings *config.Settings
	registry Registry
	plan     PlanFunc
	scales   []string
	log      zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup

	// gate is held shared by every executor call; Stop takes it exclusively
	// so no call can start once Stop has returned.
	gate    sync.RWMutex
	stopped bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithPlanner replaces planner.PlanTasksForTick.
func WithPlanner(p PlanFunc) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.plan = p
		}
	}
}

// WithScales restricts the scales consumed. Defaults to config.AllScales.
func WithScales(scales ...string) Option {
	return func(o *Orchestrator) { o.scales = scales }
}

// New creates an orchestrator. The registry is copied.
func New(hub *clock.Hub, settings *config.Settings, registry Registry, opts ...Option) *Orchestrator {
	reg := make(Registry, len(registry))
	for k, v := range registry {
		reg[k] = v
	}
	o := &Orchestrator{
		hub:      hub,
		settings: settings,
		registry: reg,
		plan:     planner.PlanTasksForTick,
		scales:   config.AllScales,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start subscribes to every scale of interest and consumes each one in its
// own goroutine. Scales the hub does not know are skipped with a warning.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	// Executors are never cancelled by Stop; they may only time themselves out.
	execCtx := context.WithoutCancel(ctx)

	subs := make([]*clock.Subscription, 0, len(o.scales))
	for _, scale := range o.scales {
		sub, err := o.hub.Subscribe(loopCtx, scale)
		if errors.Is(err, clock.ErrUnknownScale) {
			o.log.Warn().Str("scale", scale).Msg("scale has no configured period, not scheduled")
			continue
		}
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe %s: %w", scale, err)
		}
		subs = append(subs, sub)
	}

	for _, sub := range subs {
		o.loops.Add(1)
		go o.consume(execCtx, sub)
	}

	o.started = true
	o.cancel = cancel
	o.log.Info().Int("scales", len(subs)).Msg("orchestrator started")
	return nil
}

// Stop ends every scale loop. An executor call already running is allowed
// to finish and Stop waits for it; no executor call starts after Stop returns.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.loops.Wait()

	o.gate.Lock()
	o.stopped = true
	o.gate.Unlock()

	o.log.Info().Msg("orchestrator stopped")
}

func (o *Orchestrator) consume(ctx context.Context, sub *clock.Subscription) {
	defer o.loops.Done()

	for tick := range sub.C() {
		metrics.TicksTotal.WithLabelValues(tick.Scale, string(tick.Reason)).Inc()
		go o.handleTick(ctx, tick)
	}
}

func (o *Orchestrator) handleTick(ctx context.Context, tick clock.Tick) {
	runID := uuid.NewString()
	log := o.log.With().Str("scale", tick.Scale).Str("run_id", runID).Int64("cycle", tick.CycleTimestamp).Logger()

	tasks, err := o.safePlan(tick)
	if err != nil {
		log.Error().Err(err).Msg("planning failed")
		return
	}
	if len(tasks) == 0 {
		metrics.TicksSkipped.WithLabelValues(tick.Scale).Inc()
		log.Debug().Int64("period_ms", tick.PeriodMs).Msg("empty plan, tick skipped")
		return
	}

	for _, task := range tasks {
		if !o.runTask(ctx, log, task, tick) {
			log.Debug().Msg("orchestrator stopped, remaining tasks dropped")
			return
		}
	}
}

func (o *Orchestrator) safePlan(tick clock.Tick) (tasks []planner.Task, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("planner panic: %v", r)
		}
	}()
	return o.plan(tick, o.settings), nil
}

// runTask reports false once the orchestrator is stopped.
func (o *Orchestrator) runTask(ctx context.Context, log zerolog.Logger, task planner.Task, tick clock.Tick) bool {
	o.gate.RLock()
	defer o.gate.RUnlock()
	if o.stopped {
		return false
	}

	typ := task.Type()
	exec, ok := o.registry[typ]
	if !ok {
		metrics.TasksTotal.WithLabelValues(string(typ), "unregistered").Inc()
		log.Warn().Str("task", string(typ)).Msg("no executor registered, task skipped")
		return true
	}

	start := time.Now()
	err := invoke(ctx, exec, task, tick, o.settings)
	metrics.TaskDuration.WithLabelValues(string(typ)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TasksTotal.WithLabelValues(string(typ), "error").Inc()
		log.Error().Err(err).Str("task", string(typ)).Msg("task failed")
		return true
	}
	metrics.TasksTotal.WithLabelValues(string(typ), "ok").Inc()
	return true
}

func invoke(ctx context.Context, exec Executor, task planner.Task, tick clock.Tick, settings *config.Settings) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(ctx, task, tick, settings)
}
