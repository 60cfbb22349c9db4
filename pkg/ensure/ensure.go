// Package ensure makes sure a window has enough sampling points before a
// consumer reads it, forcing collections when it does not.
package ensure

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/metrics"
	"github.com/nicktill/marketpulse/pkg/sampling"
	"github.com/nicktill/marketpulse/pkg/storage"
)

const (
	minTarget = 12
	maxTarget = 128

	// DefaultMaxCycles bounds forced collections per request.
	DefaultMaxCycles = 16
)

// MinSamplesTarget is the number of points needed to fill bins:
// max(12, min(128, ceil(bins/4))).
// Non-positive bins get the floor.
func MinSamplesTarget(bins int) int {
	if bins <= 0 {
		return minTarget
	}
	target := bins / 4
	if bins%4 != 0 {
		target++
	}
	if target > maxTarget {
		target = maxTarget
	}
	if target < minTarget {
		target = minTarget
	}
	return target
}

// Sampler is the part of the sampling store the guarantor drives.
type Sampler interface {
	GetPoints(ctx context.Context, symbol, window string) ([]storage.Point, error)
	Collect(ctx context.Context, symbol string, opts sampling.CollectOptions) (storage.Point, error)
}

// PointFactory supplies the point for forced collection number cycle
// (starting at 0). Returning nil falls back to the sampler's own source.
type PointFactory func(symbol string, cycle int) *storage.Point

// Request names the window to fill.
type Request struct {
	Symbol string
	Window string
	Bins   int

	// MaxCycles overrides the guarantor's budget when positive.
	MaxCycles int

	// Factory, when set, provides the forced points.
	Factory PointFactory
}

// Result is what the guarantor could gather. Points may be fewer than Target
// when the cycle budget ran out.
type Result struct {
	Points []storage.Point
	Target int
	Cycles int
}

// Guarantor fills windows on demand.
type Guarantor struct {
	sampler       Sampler
	clock         clockwork.Clock
	log           zerolog.Logger
	maxCycles     int
	pointInterval time.Duration
}

// Option configures a Guarantor.
type Option func(*Guarantor)

// WithClock sets the clock used for the pause between cycles.
func WithClock(c clockwork.Clock) Option {
	return func(g *Guarantor) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Guarantor) { g.log = l }
}

// WithMaxCycles sets the default forced-collection budget.
func WithMaxCycles(n int) Option {
	return func(g *Guarantor) {
		if n > 0 {
			g.maxCycles = n
		}
	}
}

// WithPointInterval sets the pause between forced collections. Zero disables it.
func WithPointInterval(d time.Duration) Option {
	return func(g *Guarantor) {
		if d >= 0 {
			g.pointInterval = d
		}
	}
}

// New creates a guarantor over sampler.
func New(sampler Sampler, opts ...Option) *Guarantor {
	g := &Guarantor{
		sampler:       sampler,
		clock:         clockwork.NewRealClock(),
		log:           zerolog.Nop(),
		maxCycles:     DefaultMaxCycles,
		pointInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureWindowPoints returns the window's points, forcing up to MaxCycles
// collections while fewer than MinSamplesTarget(Bins) are available. A
// satisfied window costs a single read and no collection. A failed
// collection aborts the loop and is returned along with the points so far.
func (g *Guarantor) EnsureWindowPoints(ctx context.Context, req Request) (Result, error) {
	maxCycles := g.maxCycles
	if req.MaxCycles > 0 {
		maxCycles = req.MaxCycles
	}
	res := Result{Target: MinSamplesTarget(req.Bins)}

	points, err := g.sampler.GetPoints(ctx, req.Symbol, req.Window)
	if err != nil {
		return res, err
	}
	res.Points = points

	log := g.log.With().Str("symbol", req.Symbol).Str("window", req.Window).Int("target", res.Target).Logger()

	for len(res.Points) < res.Target && res.Cycles < maxCycles {
		var opts sampling.CollectOptions
		if req.Factory != nil {
			opts.Point = req.Factory(req.Symbol, res.Cycles)
		}

		_, err := g.sampler.Collect(ctx, req.Symbol, opts)
		res.Cycles++
		metrics.ForcedCollections.WithLabelValues(req.Window).Inc()
		if err != nil {
			return res, fmt.Errorf("forced collection %d: %w", res.Cycles, err)
		}

		points, err := g.sampler.GetPoints(ctx, req.Symbol, req.Window)
		if err != nil {
			return res, err
		}
		res.Points = points

		if len(res.Points) < res.Target && res.Cycles < maxCycles && g.pointInterval > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-g.clock.After(g.pointInterval):
			}
		}
	}

	if res.Cycles > 0 {
		log.Debug().Int("cycles", res.Cycles).Int("points", len(res.Points)).Msg("window forced")
	}
	if len(res.Points) < res.Target {
		log.Warn().Int("points", len(res.Points)).Msg("window below target after forced sampling")
	}
	return res, nil
}
