package archiver

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("BreakerState(%d)", int(s))
	}
}

// BreakerConfig configures the dispatch circuit breaker.
type BreakerConfig struct {
	// ErrorThreshold is the failure ratio (0..1] that opens the breaker.
	ErrorThreshold float64

	// MinSamples is the number of results in the window before the ratio
	// is considered.
	MinSamples int

	Window   time.Duration
	Cooldown time.Duration
}

// DefaultBreakerConfig opens at 50% failures over 20+ results in 30s and
// stays open for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold: 0.5,
		MinSamples:     20,
		Window:         30 * time.Second,
		Cooldown:       30 * time.Second,
	}
}

type sample struct {
	at     time.Time
	failed bool
}

// Breaker tracks backend attempt results over a sliding window and halts
// new chunk dispatch while the failure ratio is above threshold.
//
// Unlike the governor, which reacts to explicit throttle signals, the
// breaker reacts to sustained failures of any kind. After Cooldown the
// breaker half-opens: dispatch resumes and the next result decides whether
// it closes or reopens.
//
// Thread-safety: all methods are safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     BreakerState
	openUntil time.Time
	samples   []sample
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.ErrorThreshold <= 0 || cfg.ErrorThreshold > 1 {
		cfg.ErrorThreshold = d.ErrorThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = d.MinSamples
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	breakerState.Set(float64(BreakerClosed))
	return &Breaker{cfg: cfg, now: time.Now}
}

// Record adds one attempt result.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case BreakerOpen:
		// Results from chunks dispatched before opening.
		return
	case BreakerHalfOpen:
		if failed {
			b.open(now)
		} else {
			b.setState(BreakerClosed)
			b.samples = b.samples[:0]
		}
		return
	}

	b.samples = append(b.samples, sample{at: now, failed: failed})
	b.prune(now)

	if len(b.samples) < b.cfg.MinSamples {
		return
	}
	failures := 0
	for _, s := range b.samples {
		if s.failed {
			failures++
		}
	}
	if float64(failures)/float64(len(b.samples)) >= b.cfg.ErrorThreshold {
		b.open(now)
	}
}

// OpenFor returns how long dispatch must stay halted. When the cooldown has
// elapsed the breaker moves to half-open and OpenFor returns zero.
func (b *Breaker) OpenFor() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return 0
	}
	if d := b.openUntil.Sub(b.now()); d > 0 {
		return d
	}
	b.setState(BreakerHalfOpen)
	return 0
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open(now time.Time) {
	b.setState(BreakerOpen)
	b.openUntil = now.Add(b.cfg.Cooldown)
	b.samples = b.samples[:0]
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	breakerState.Set(float64(s))
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}
