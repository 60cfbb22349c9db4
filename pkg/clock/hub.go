// Package clock produces independent, epoch-aligned tick sequences for each
// named scale.
package clock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/period"
)

var (
	// ErrUnknownScale is returned when subscribing to a scale with no period.
	ErrUnknownScale = errors.New("unknown scale")

	// ErrHubStopped is returned when subscribing after Stop.
	ErrHubStopped = errors.New("hub stopped")
)

// Reason tells why a tick fired.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonManual    Reason = "manual"
)

// Tick is one firing of a scale. CycleTimestamp is in Unix milliseconds and,
// for scheduled ticks, always a multiple of PeriodMs.
type Tick struct {
	CycleTimestamp int64  `json:"cycle_timestamp"`
	PeriodMs       int64  `json:"period_ms"`
	Scale          string `json:"scale"`
	Reason         Reason `json:"reason"`
}

// Time returns CycleTimestamp as a UTC time.
func (t Tick) Time() time.Time {
	return time.UnixMilli(t.CycleTimestamp).UTC()
}

// Period returns PeriodMs as a duration.
func (t Tick) Period() time.Duration {
	return time.Duration(t.PeriodMs) * time.Millisecond
}

// Hub hands out tick subscriptions. Every subscription runs its own ticking
// goroutine, so a slow consumer only ever delays itself.
type Hub struct {
	clock   clockwork.Clock
	log     zerolog.Logger
	periods map[string]time.Duration

	mu      sync.Mutex
	subs    map[string]map[*Subscription]struct{}
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock replaces the wall clock, typically with a clockwork fake in tests.
func WithClock(c clockwork.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// NewHub creates a hub for the given scale periods. Non-positive periods are ignored.
func NewHub(periods map[string]time.Duration, opts ...Option) *Hub {
	h := &Hub{
		clock:   clockwork.NewRealClock(),
		log:     zerolog.Nop(),
		periods: make(map[string]time.Duration, len(periods)),
		subs:    make(map[string]map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}
	for scale, p := range periods {
		if p > 0 {
			h.periods[scale] = p
		}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Scales returns the known scale names in sorted order.
func (h *Hub) Scales() []string {
	out := make([]string, 0, len(h.periods))
	for s := range h.periods {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Period returns the period of a scale.
func (h *Hub) Period(scale string) (time.Duration, bool) {
	p, ok := h.periods[scale]
	return p, ok
}

// Subscribe starts a new, independent tick sequence for scale. The sequence
// ends (its channel is closed) when ctx is done, the subscription is closed
// or the hub is stopped.
func (h *Hub) Subscribe(ctx context.Context, scale string) (*Subscription, error) {
	p, ok := h.periods[scale]
	if !ok {
		return nil, ErrUnknownScale
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, ErrHubStopped
	}

	sub := &Subscription{
		hub:    h,
		scale:  scale,
		period: p,
		c:      make(chan Tick, 1),
		manual: make(chan Tick, 1),
		done:   make(chan struct{}),
	}
	if h.subs[scale] == nil {
		h.subs[scale] = make(map[*Subscription]struct{})
	}
	h.subs[scale][sub] = struct{}{}

	h.wg.Add(1)
	go sub.run(ctx)

	h.log.Debug().Str("scale", scale).Dur("period", p).Msg("subscription started")
	return sub, nil
}

// Trigger emits a manual tick to every live subscriber of scale and returns
// how many accepted it. Subscribers with a manual tick already pending are skipped.
func (h *Hub) Trigger(scale string) (int, error) {
	p, ok := h.periods[scale]
	if !ok {
		return 0, ErrUnknownScale
	}

	tick := Tick{
		CycleTimestamp: h.clock.Now().UnixMilli(),
		PeriodMs:       p.Milliseconds(),
		Scale:          scale,
		Reason:         ReasonManual,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for sub := range h.subs[scale] {
		select {
		case sub.manual <- tick:
			delivered++
		default:
		}
	}
	return delivered, nil
}

// Stop ends every subscription and waits for their goroutines to exit.
// It is safe to call more than once.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[sub.scale], sub)
}

// Subscription is one consumer's tick sequence.
type Subscription struct {
	hub    *Hub
	scale  string
	period time.Duration
	c      chan Tick
	manual chan Tick
	done   chan struct{}
	once   sync.Once
}

// C returns the tick channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Tick {
	return s.c
}

// Scale returns the subscribed scale.
func (s *Subscription) Scale() string {
	return s.scale
}

// Close ends the subscription. It does not wait for the goroutine to exit.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) run(ctx context.Context) {
	h := s.hub
	defer h.wg.Done()
	defer close(s.c)
	defer h.remove(s)

	// last is the most recent scheduled boundary; a clock stepping backwards
	// must not produce it again.
	var last time.Time
	for {
		now := h.clock.Now()
		next := period.Next(now, s.period)
		if !last.IsZero() && !next.After(last) {
			next = last.Add(s.period)
		}
		timer := h.clock.NewTimer(next.Sub(now))

		var tick Tick
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.done:
			timer.Stop()
			return
		case <-h.done:
			timer.Stop()
			return
		case tick = <-s.manual:
			timer.Stop()
		case <-timer.Chan():
			last = next
			tick = Tick{
				CycleTimestamp: next.UnixMilli(),
				PeriodMs:       s.period.Milliseconds(),
				Scale:          s.scale,
				Reason:         ReasonScheduled,
			}
		}

		// Boundaries that pass while this send blocks are coalesced: the
		// next wait is computed from the clock, not from the last tick.
		select {
		case s.c <- tick:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-h.done:
			return
		}
	}
}
