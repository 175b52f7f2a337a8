package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/coldline/internal/tier"
)

// ErrInjected is the cause attached to injected failures.
var ErrInjected = errors.New("injected fault")

// FaultyCold wraps a cold tier and fails puts on request.
//
// Thread-safety: all methods are safe for concurrent use.
type FaultyCold struct {
	tier.Cold

	mu        sync.Mutex
	failPuts  map[string]int // remaining failures; -1 means always
	corrupt   map[string]int // remaining corrupted writes; -1 means always
	throttled map[string]bool
	puts      map[string]int
}

// NewFaultyCold wraps inner.
func NewFaultyCold(inner tier.Cold) *FaultyCold {
	return &FaultyCold{
		Cold:      inner,
		failPuts:  make(map[string]int),
		corrupt:   make(map[string]int),
		throttled: make(map[string]bool),
		puts:      make(map[string]int),
	}
}

// FailPuts makes the next n puts of name fail. n < 0 fails forever.
func (f *FaultyCold) FailPuts(name string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 {
		n = -1
	}
	f.failPuts[name] = n
}

// ThrottlePuts makes injected put failures of name report throttling
// instead of unavailability.
func (f *FaultyCold) ThrottlePuts(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttled[name] = true
}

// CorruptPuts makes the next n puts of name store a damaged body while
// reporting success. n < 0 corrupts forever.
func (f *FaultyCold) CorruptPuts(name string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 {
		n = -1
	}
	f.corrupt[name] = n
}

// Heal clears every fault configured for name. An empty name clears all.
func (f *FaultyCold) Heal(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		f.failPuts = make(map[string]int)
		f.corrupt = make(map[string]int)
		f.throttled = make(map[string]bool)
		return
	}
	delete(f.failPuts, name)
	delete(f.corrupt, name)
	delete(f.throttled, name)
}

// Puts returns how many puts of name were attempted.
func (f *FaultyCold) Puts(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts[name]
}

// Put applies any configured fault before delegating.
func (f *FaultyCold) Put(ctx context.Context, name string, body []byte) error {
	f.mu.Lock()
	f.puts[name]++
	if n := f.failPuts[name]; n != 0 {
		if n > 0 {
			f.failPuts[name] = n - 1
		}
		throttled := f.throttled[name]
		f.mu.Unlock()
		if throttled {
			return tier.Throttled("faulty", "put", name, ErrInjected)
		}
		return tier.Unavailable("faulty", "put", name, ErrInjected)
	}
	if n := f.corrupt[name]; n != 0 {
		if n > 0 {
			f.corrupt[name] = n - 1
		}
		f.mu.Unlock()
		damaged := append([]byte{}, body...)
		if len(damaged) > 0 {
			damaged[len(damaged)-1] ^= 0xFF
		}
		return f.Cold.Put(ctx, name, damaged)
	}
	f.mu.Unlock()
	return f.Cold.Put(ctx, name, body)
}

// ThrottlingCold rejects requests beyond a per-second budget with a
// throttle error, like a provisioned-capacity backend.
type ThrottlingCold struct {
	tier.Cold

	limit int
	now   func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	count       int
	rejected    int
	accepted    int
}

// NewThrottlingCold wraps inner with a budget of perSecond requests.
func NewThrottlingCold(inner tier.Cold, perSecond int) *ThrottlingCold {
	return &ThrottlingCold{Cold: inner, limit: perSecond, now: time.Now}
}

func (t *ThrottlingCold) admit(op, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.windowStart) >= time.Second {
		t.windowStart = now
		t.count = 0
	}
	t.count++
	if t.count > t.limit {
		t.rejected++
		return tier.Throttled("throttling", op, name, ErrInjected)
	}
	t.accepted++
	return nil
}

// Put admits the request against the budget.
func (t *ThrottlingCold) Put(ctx context.Context, name string, body []byte) error {
	if err := t.admit("put", name); err != nil {
		return err
	}
	return t.Cold.Put(ctx, name, body)
}

// Stats returns accepted and rejected request counts.
func (t *ThrottlingCold) Stats() (accepted, rejected int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted, t.rejected
}
