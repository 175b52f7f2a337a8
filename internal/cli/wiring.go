package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/coldline/internal/archiver"
	"github.com/roach88/coldline/internal/cache"
	"github.com/roach88/coldline/internal/config"
	"github.com/roach88/coldline/internal/gateway"
	"github.com/roach88/coldline/internal/scanner"
	"github.com/roach88/coldline/internal/store"
	"github.com/roach88/coldline/internal/tier"
	"github.com/roach88/coldline/internal/tier/badgercold"
	"github.com/roach88/coldline/internal/tier/dynamohot"
	"github.com/roach88/coldline/internal/tier/gcscold"
	"github.com/roach88/coldline/internal/tier/sqlitehot"
)

// backends holds the stores a command opened. Close releases them in
// reverse order.
type backends struct {
	cfg   *config.Config
	hot   tier.Hot
	cold  tier.Cold
	cache cache.Cache
	state *store.Store

	closers []func() error
}

// need selects which stores a command opens.
type need struct {
	hot, cold, cache, state bool
}

func openBackends(ctx context.Context, cfg *config.Config, n need) (*backends, error) {
	b := &backends{cfg: cfg, cache: cache.Nop{}}
	fail := func(err error) (*backends, error) {
		_ = b.Close()
		return nil, err
	}

	if n.state {
		st, err := store.Open(cfg.StateDB)
		if err != nil {
			return fail(fmt.Errorf("state db: %w", err))
		}
		b.state = st
		b.closers = append(b.closers, st.Close)
	}
	if n.hot {
		if err := b.openHot(ctx); err != nil {
			return fail(err)
		}
	}
	if n.cold {
		if err := b.openCold(ctx); err != nil {
			return fail(err)
		}
	}
	if n.cache && cfg.Cache.Driver == "redis" {
		c, err := cache.NewRedis(cache.RedisOptions{
			Address:   cfg.Cache.Address,
			Database:  cfg.Cache.Database,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("cache: %w", err))
		}
		b.cache = c
		b.closers = append(b.closers, c.Close)
	}
	return b, nil
}

func (b *backends) openHot(ctx context.Context) error {
	switch b.cfg.Hot.Driver {
	case "sqlite":
		s, err := sqlitehot.Open(b.cfg.Hot.Path)
		if err != nil {
			return fmt.Errorf("hot store: %w", err)
		}
		b.hot = s
		b.closers = append(b.closers, s.Close)
	case "dynamodb":
		s, err := dynamohot.Open(ctx, dynamohot.Options{
			Table:    b.cfg.Hot.Table,
			Region:   b.cfg.Hot.Region,
			Endpoint: b.cfg.Hot.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("hot store: %w", err)
		}
		b.hot = s
	default:
		return fmt.Errorf("hot store: unknown driver %q", b.cfg.Hot.Driver)
	}
	return nil
}

func (b *backends) openCold(ctx context.Context) error {
	switch b.cfg.Cold.Driver {
	case "badger":
		s, err := badgercold.Open(badgercold.Config{Path: b.cfg.Cold.Path, SyncWrites: true})
		if err != nil {
			return fmt.Errorf("cold store: %w", err)
		}
		b.cold = s
		b.closers = append(b.closers, s.Close)
	case "gcs":
		s, err := gcscold.Open(ctx, gcscold.Options{
			Bucket:          b.cfg.Cold.Bucket,
			Prefix:          b.cfg.Cold.Prefix,
			CredentialsFile: b.cfg.Cold.CredentialsFile,
		})
		if err != nil {
			return fmt.Errorf("cold store: %w", err)
		}
		b.cold = s
		b.closers = append(b.closers, s.Close)
	default:
		return fmt.Errorf("cold store: unknown driver %q", b.cfg.Cold.Driver)
	}
	return nil
}

// Close releases every opened store.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *backends) closeAndLog() {
	if err := b.Close(); err != nil {
		slog.Error("error closing stores", "error", err)
	}
}

func (b *backends) newScanner(full bool, logger *slog.Logger) *scanner.Scanner {
	return scanner.New(b.hot, b.state,
		scanner.WithName(b.cfg.Scan.Name),
		scanner.WithThreshold(b.cfg.Threshold()),
		scanner.WithPageSize(b.cfg.Scan.PageSize),
		scanner.WithFull(full),
		scanner.WithLogger(logger),
	)
}

func (b *backends) newOrchestrator(acker archiver.Acker, logger *slog.Logger) *archiver.Orchestrator {
	cfg := b.cfg
	return archiver.New(b.hot, b.cold,
		archiver.WithChunkSize(cfg.ChunkSize),
		archiver.WithWorkers(cfg.MaxConcurrentWorkers),
		archiver.WithRecordConcurrency(cfg.RecordConcurrency),
		archiver.WithRetryPolicy(archiver.RetryPolicy{
			MaxAttempts: cfg.MaxRetryAttempts,
			Base:        cfg.Backoff.Base,
			Factor:      cfg.Backoff.Factor,
			Cap:         cfg.Backoff.Cap,
			Jitter:      cfg.Backoff.Jitter,
		}),
		archiver.WithGovernor(archiver.NewGovernor(archiver.GovernorConfig{
			RatePerSecond:    cfg.Governor.RatePerSecond,
			Burst:            cfg.Governor.Burst,
			MinRatePerSecond: cfg.Governor.MinRatePerSecond,
			Pause:            cfg.Governor.Pause,
		})),
		archiver.WithBreaker(archiver.NewBreaker(archiver.BreakerConfig{
			ErrorThreshold: cfg.Breaker.ErrorThreshold,
			MinSamples:     cfg.Breaker.MinSamples,
			Window:         cfg.Breaker.Window,
			Cooldown:       cfg.Breaker.Cooldown,
		})),
		archiver.WithSink(b.state),
		archiver.WithAcker(acker),
		archiver.WithFlushInterval(cfg.FlushInterval),
		archiver.WithVerifyContent(cfg.VerifyContent),
		archiver.WithLogger(logger),
	)
}

func (b *backends) newGateway(logger *slog.Logger) *gateway.Gateway {
	return gateway.New(b.hot, b.cold,
		gateway.WithCache(b.cache),
		gateway.WithCacheTTL(b.cfg.CacheTTL),
		gateway.WithRetryDelay(b.cfg.Backoff.Base),
		gateway.WithLogger(logger),
	)
}
