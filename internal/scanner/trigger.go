package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/store"
)

// Trigger produces archival candidates until its context is cancelled.
type Trigger interface {
	Name() string
	Run(ctx context.Context, out chan<- record.Candidate) error
}

// RunTriggers runs every trigger concurrently, feeding out, and closes out
// once all of them have returned. A trigger failing with anything other
// than cancellation stops the others.
func RunTriggers(ctx context.Context, out chan<- record.Candidate, triggers ...Trigger) error {
	defer close(out)
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range triggers {
		g.Go(func() error {
			err := t.Run(gctx, out)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("trigger %s: %w", t.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// IntervalTrigger runs the scanner immediately and then every Interval.
// Scan errors are logged and retried on the next tick.
type IntervalTrigger struct {
	Scanner  *Scanner
	Interval time.Duration
	Logger   *slog.Logger
}

// Name implements Trigger.
func (t *IntervalTrigger) Name() string { return "interval-scan" }

// Run implements Trigger.
func (t *IntervalTrigger) Run(ctx context.Context, out chan<- record.Candidate) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := t.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer func() {
		// The last acknowledgements land after the final pass.
		if err := t.Scanner.Flush(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("final checkpoint save failed", "error", err)
		}
	}()

	for {
		stats, err := t.Scanner.ScanOnce(ctx, out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("scan failed", "error", err)
		} else if stats.Candidates > 0 {
			logger.Info("scan emitted candidates", "candidates", stats.Candidates, "pages", stats.Pages, "cutoff", stats.Cutoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Scanner.Flush(ctx); err != nil {
				logger.Warn("checkpoint save failed", "error", err)
			}
		}
	}
}

// RequeueSource hands out dead-letter entries an operator marked for
// requeue. Implemented by *store.Store.
type RequeueSource interface {
	ClaimRequeued(ctx context.Context, limit int) ([]store.DeadLetter, error)
}

// RequeueTrigger polls the dead-letter sink for entries marked for requeue
// and re-injects them as fresh, untracked candidates.
type RequeueTrigger struct {
	Source   RequeueSource
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger
}

// Name implements Trigger.
func (t *RequeueTrigger) Name() string { return "dead-letter-requeue" }

// Run implements Trigger.
func (t *RequeueTrigger) Run(ctx context.Context, out chan<- record.Candidate) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := t.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := t.Poll(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("requeue poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll claims pending entries until none are left and emits them.
func (t *RequeueTrigger) Poll(ctx context.Context, out chan<- record.Candidate) (int, error) {
	batch := t.Batch
	if batch <= 0 {
		batch = 100
	}
	total := 0
	for {
		entries, err := t.Source.ClaimRequeued(ctx, batch)
		if err != nil {
			return total, err
		}
		for _, dl := range entries {
			select {
			case out <- dl.Candidate():
				total++
				requeuedCandidates.Inc()
			case <-ctx.Done():
				return total, ctx.Err()
			}
		}
		if len(entries) < batch {
			return total, nil
		}
	}
}
