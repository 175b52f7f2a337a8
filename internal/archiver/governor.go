package archiver

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GovernorConfig configures the adaptive throughput governor.
type GovernorConfig struct {
	// RatePerSecond is the ceiling for backend record attempts per second.
	// Zero means unlimited until the first throttle signal.
	RatePerSecond float64

	Burst int

	// MinRatePerSecond is the floor the rate never drops below.
	MinRatePerSecond float64

	// Pause is how long new chunk dispatch halts after a throttle signal.
	Pause time.Duration
}

// Governor is a process-wide rate limiter over record attempts that adapts
// to backend throttle signals. Throttle halves the current rate and pauses
// dispatch. Each success recovers the rate additively up to the ceiling.
//
// Thread-safety: all methods are safe for concurrent use.
type Governor struct {
	limiter *rate.Limiter
	cfg     GovernorConfig
	now     func() time.Time

	mu          sync.Mutex
	current     float64
	pausedUntil time.Time
}

// NewGovernor creates a governor.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MinRatePerSecond <= 0 {
		cfg.MinRatePerSecond = 1
	}
	if cfg.RatePerSecond > 0 && cfg.MinRatePerSecond > cfg.RatePerSecond {
		cfg.MinRatePerSecond = cfg.RatePerSecond
	}

	g := &Governor{cfg: cfg, now: time.Now}
	if cfg.RatePerSecond > 0 {
		g.current = cfg.RatePerSecond
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	} else {
		g.current = math.Inf(1)
		g.limiter = rate.NewLimiter(rate.Inf, cfg.Burst)
	}
	governorRate.Set(g.rateForMetric())
	return g
}

// Wait blocks until the next attempt is permitted.
func (g *Governor) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// Throttle records a backend capacity signal.
func (g *Governor) Throttle() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if math.IsInf(g.current, 1) {
		// Unlimited governors start adapting from the observed burst.
		g.current = float64(g.cfg.Burst) * 2
	}
	g.current = math.Max(g.current/2, g.cfg.MinRatePerSecond)
	g.limiter.SetLimit(rate.Limit(g.current))
	if g.cfg.Pause > 0 {
		g.pausedUntil = g.now().Add(g.cfg.Pause)
	}
	governorRate.Set(g.rateForMetric())
}

// Success records a completed attempt and recovers the rate by one
// request per second.
func (g *Governor) Success() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if math.IsInf(g.current, 1) {
		return
	}
	ceiling := g.cfg.RatePerSecond
	next := g.current + 1
	if ceiling <= 0 {
		// No configured ceiling: recover until it no longer matters.
		if next >= float64(g.cfg.Burst)*1000 {
			g.current = math.Inf(1)
			g.limiter.SetLimit(rate.Inf)
			governorRate.Set(0)
			return
		}
	} else if next > ceiling {
		next = ceiling
	}
	if next != g.current {
		g.current = next
		g.limiter.SetLimit(rate.Limit(next))
		governorRate.Set(g.rateForMetric())
	}
}

// PausedFor returns how much longer dispatch is halted. Zero means not paused.
func (g *Governor) PausedFor() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.pausedUntil.Sub(g.now()); d > 0 {
		return d
	}
	return 0
}

// Rate returns the current permitted attempts per second.
// Returns +Inf when unlimited.
func (g *Governor) Rate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *Governor) rateForMetric() float64 {
	if math.IsInf(g.current, 1) {
		return 0
	}
	return g.current
}
