// Package gateway serves record reads across the hot and cold tiers.
//
// A read tries the hot tier first, then the cache, then the cold tier.
// Records read from the cold tier are cached for the configured TTL.
// Because the archiver deletes a hot record only after its cold copy is
// verified, a record is never absent from both tiers at once, so a read
// racing an archival still finds it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/coldline/internal/cache"
	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

// Defaults for Gateway options.
const (
	DefaultCacheTTL   = time.Hour
	DefaultRetryDelay = time.Second
)

// ErrRecordNotFound is returned when neither tier holds the record.
var ErrRecordNotFound = errors.New("record not found")

// UnavailableError reports a read that could not be answered because a
// tier failed. The record may exist; callers may retry.
type UnavailableError struct {
	Key  record.Key
	Tier string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("record %s: %s tier unavailable: %v", e.Key, e.Tier, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Source names the tier a read was served from.
type Source string

const (
	SourceHot   Source = "hot"
	SourceCache Source = "cache"
	SourceCold  Source = "cold"
)

// Result is a successful read.
type Result struct {
	Record record.Record
	Source Source
}

// Gateway reads records from whichever tier holds them.
//
// Thread-safety: all methods are safe for concurrent use.
type Gateway struct {
	hot        tier.Hot
	cold       tier.Cold
	cache      cache.Cache
	ttl        time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache sets the cache for cold reads. Failures of c degrade to misses.
func WithCache(c cache.Cache) Option {
	return func(g *Gateway) {
		if c != nil {
			g.cache = c
		}
	}
}

// WithCacheTTL sets how long cold reads stay cached.
func WithCacheTTL(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// WithRetryDelay sets the pause before the single retry of a failed cold
// read.
func WithRetryDelay(d time.Duration) Option {
	return func(g *Gateway) {
		if d >= 0 {
			g.retryDelay = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a gateway. Without WithCache, nothing is cached.
func New(hot tier.Hot, cold tier.Cold, opts ...Option) *Gateway {
	g := &Gateway{
		hot:        hot,
		cold:       cold,
		cache:      cache.Nop{},
		ttl:        DefaultCacheTTL,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.cache = cache.NewSafe(g.cache, g.logger)
	return g
}

// Get returns the record for key.
//
// Errors:
//   - ErrRecordNotFound: no tier holds the record
//   - *UnavailableError: a tier failed and the record may exist
func (g *Gateway) Get(ctx context.Context, key record.Key) (Result, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	rec, err := g.hot.Get(ctx, key)
	if err == nil {
		observe(SourceHot, start)
		return Result{Record: rec, Source: SourceHot}, nil
	}
	var hotErr error
	if !tier.IsNotFound(err) {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		// The record could still be in the hot tier, so a cold miss below
		// is not conclusive.
		hotErr = err
		g.logger.Warn("hot read failed, trying cold path", "partition", key.PartitionKey, "id", key.ID, "error", err)
	}

	name := record.ColdName(key)
	if body, ok, _ := g.cache.Get(ctx, name); ok {
		if rec, _, err := record.DecodeCold(body); err == nil && rec.Key == key {
			_ = g.cache.Touch(ctx, name, g.ttl)
			observe(SourceCache, start)
			return Result{Record: rec, Source: SourceCache}, nil
		}
		g.logger.Warn("discarding unreadable cache entry", "partition", key.PartitionKey, "id", key.ID)
	}

	body, err := g.readCold(ctx, name)
	switch {
	case err == nil:
	case tier.IsNotFound(err) && hotErr == nil:
		misses.Inc()
		return Result{}, fmt.Errorf("get %s: %w", key, ErrRecordNotFound)
	case tier.IsNotFound(err):
		return Result{}, &UnavailableError{Key: key, Tier: "hot", Err: hotErr}
	default:
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &UnavailableError{Key: key, Tier: "cold", Err: err}
	}

	rec, _, err = record.DecodeCold(body)
	if err != nil {
		return Result{}, fmt.Errorf("get %s: decode cold object: %w", key, err)
	}
	_ = g.cache.Set(ctx, name, body, g.ttl)
	observe(SourceCold, start)
	return Result{Record: rec, Source: SourceCold}, nil
}

// readCold reads an object, retrying a transient failure once.
func (g *Gateway) readCold(ctx context.Context, name string) ([]byte, error) {
	body, err := g.cold.Get(ctx, name)
	if err == nil || tier.IsNotFound(err) || ctx.Err() != nil {
		return body, err
	}
	g.logger.Debug("cold read failed, retrying", "object", name, "error", err)

	t := time.NewTimer(g.retryDelay)
	select {
	case <-ctx.Done():
		t.Stop()
		return nil, ctx.Err()
	case <-t.C:
	}
	return g.cold.Get(ctx, name)
}
