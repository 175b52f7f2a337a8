// Package cache provides the optional read-through cache used by the
// retrieval gateway for records served from the cold tier.
//
// The cache is never authoritative. Entries expire after a TTL and any
// cache failure is treated as a miss.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache stores record bodies by key with a time-to-live.
type Cache interface {
	// Get returns the cached value. ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Touch resets the expiry of an existing entry.
	Touch(ctx context.Context, key string, ttl time.Duration) error
}

// Nop is a cache that never stores anything.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards the value.
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Touch does nothing.
func (Nop) Touch(context.Context, string, time.Duration) error { return nil }

// Safe wraps a cache so that failures degrade to misses. Errors are logged
// and never returned.
type Safe struct {
	inner  Cache
	logger *slog.Logger
}

// NewSafe wraps c. A nil logger uses slog.Default.
func NewSafe(c Cache, logger *slog.Logger) *Safe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Safe{inner: c, logger: logger}
}

// Get returns the cached value, or a miss if the backend failed.
func (s *Safe) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	return v, ok, nil
}

// Set stores the value, logging failures.
func (s *Safe) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.inner.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
	return nil
}

// Touch refreshes the expiry, logging failures.
func (s *Safe) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.inner.Touch(ctx, key, ttl); err != nil {
		s.logger.Warn("cache touch failed", "key", key, "error", err)
	}
	return nil
}
