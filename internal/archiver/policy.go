package archiver

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds per-record retries.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	Base   time.Duration
	Factor float64
	Cap    time.Duration

	// Jitter is the randomization factor applied to each delay, in (0,1).
	// Zero selects the default.
	Jitter float64
}

// DefaultRetryPolicy returns 3 attempts with 1s base, factor 2, 30s cap
// and 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        time.Second,
		Factor:      2,
		Cap:         30 * time.Second,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.Jitter <= 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// newBackOff returns a fresh per-record delay sequence.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Factor,
		MaxInterval:         p.Cap,
	}
	b.Reset()
	return b
}

// nextDelay returns the delay before the next attempt. Throttled attempts
// double the delay, still bounded by Cap plus jitter.
func (p RetryPolicy) nextDelay(b *backoff.ExponentialBackOff, throttled bool) time.Duration {
	d := b.NextBackOff()
	if throttled {
		d *= 2
		ceiling := p.Cap + time.Duration(float64(p.Cap)*p.Jitter)
		if d > ceiling {
			d = ceiling
		}
	}
	return d
}
