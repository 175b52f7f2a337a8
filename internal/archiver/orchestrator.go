package archiver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/store"
	"github.com/roach88/coldline/internal/tier"
)

// Defaults for Orchestrator options.
const (
	DefaultChunkSize      = 500
	MaxChunkSize          = 1000
	DefaultWorkers        = 4
	DefaultFlushInterval  = 2 * time.Second
	DefaultAttemptTimeout = 30 * time.Second

	deadLetterWriteAttempts = 3
)

// DeadLetterSink durably records permanently failed records.
// Implemented by *store.Store.
type DeadLetterSink interface {
	WriteDeadLetter(ctx context.Context, dl store.DeadLetter) (bool, error)
}

// Acker is told how each tracked candidate (Seq != 0) ended. Implemented
// by scanner.Tracker.
type Acker interface {
	// Ack reports a candidate the archiver is done with.
	Ack(seq uint64)

	// Nack reports a candidate that ended failed and must be offered again.
	Nack(seq uint64)
}

// Orchestrator moves candidates from the hot tier to the cold tier.
//
// The candidate stream is cut into chunks that are handed to a fixed pool
// of workers over an unbuffered channel, so a slow backend slows intake
// instead of growing memory. Each record runs the sequence
//
//	hot get → cold put → verify → hot delete
//
// and the hot copy is deleted only after the cold copy is verified.
//
// Thread-safety model:
//   - Run(): may be called again after it returns; not concurrently
//   - all other methods are safe from any goroutine
type Orchestrator struct {
	hot  tier.Hot
	cold tier.Cold

	sink     DeadLetterSink
	acker    Acker
	observer multiObserver
	logger   *slog.Logger
	ids      IDGenerator
	now      func() time.Time

	policy   RetryPolicy
	governor *Governor
	breaker  *Breaker
	inflight *inFlight

	chunkSize         int
	workers           int
	recordConcurrency int
	flushInterval     time.Duration
	attemptTimeout    time.Duration
	verifyContent     bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithChunkSize sets the maximum candidates per chunk, clamped to 1..1000.
func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		if n > MaxChunkSize {
			n = MaxChunkSize
		}
		o.chunkSize = n
	}
}

// WithWorkers sets the number of chunks processed concurrently.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithRecordConcurrency sets how many records of one chunk are in flight
// at once. Default 1 (sequential).
func WithRecordConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.recordConcurrency = n
		}
	}
}

// WithRetryPolicy sets the per-record retry budget and backoff.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p.normalized()
	}
}

// WithGovernor sets the throughput governor.
func WithGovernor(g *Governor) Option {
	return func(o *Orchestrator) {
		o.governor = g
	}
}

// WithBreaker sets the dispatch circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(o *Orchestrator) {
		o.breaker = b
	}
}

// WithSink sets where exhausted records are recorded. Without a sink,
// exhausted records end as OutcomeFailed.
func WithSink(s DeadLetterSink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithAcker sets the watermark acknowledger.
func WithAcker(a Acker) Option {
	return func(o *Orchestrator) {
		o.acker = a
	}
}

// WithObserver adds an observer. The slog observer is always installed.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = append(o.observer, obs)
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) {
		o.ids = g
	}
}

// WithClock sets the wall clock used for event and dead-letter timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithFlushInterval sets how long a partial chunk waits for more input.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.flushInterval = d
		}
	}
}

// WithAttemptTimeout bounds a single record attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithVerifyContent toggles content-hash verification. When off, only
// existence of the cold object is checked.
func WithVerifyContent(on bool) Option {
	return func(o *Orchestrator) {
		o.verifyContent = on
	}
}

// New creates an Orchestrator over the given tiers.
func New(hot tier.Hot, cold tier.Cold, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		hot:               hot,
		cold:              cold,
		observer:          multiObserver{},
		logger:            slog.Default(),
		ids:               UUIDv7Generator{},
		now:               time.Now,
		policy:            DefaultRetryPolicy(),
		inflight:          newInFlight(),
		chunkSize:         DefaultChunkSize,
		workers:           DefaultWorkers,
		recordConcurrency: 1,
		flushInterval:     DefaultFlushInterval,
		attemptTimeout:    DefaultAttemptTimeout,
		verifyContent:     true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.governor == nil {
		o.governor = NewGovernor(GovernorConfig{Pause: 5 * time.Second})
	}
	if o.breaker == nil {
		o.breaker = NewBreaker(DefaultBreakerConfig())
	}
	o.observer = append(multiObserver{LogObserver{Logger: o.logger}}, o.observer...)
	return o
}

// Run consumes candidates until in is closed or ctx is cancelled, and
// returns once every dispatched chunk has finished.
//
// Cancellation stops intake immediately. Chunks already dispatched stop
// between record attempts and are reported ABANDONED; their unfinished
// records stay in the hot tier and are not acknowledged. Run then returns
// the context error with the partial report.
func (o *Orchestrator) Run(ctx context.Context, in <-chan record.Candidate) (RunReport, error) {
	runID := o.ids.Generate()
	report := RunReport{RunID: runID, StartedAt: o.now()}
	o.logger.Info("archive run starting",
		"run", runID,
		"chunk_size", o.chunkSize,
		"workers", o.workers,
	)

	var mu sync.Mutex
	collect := func(rep ChunkReport) {
		mu.Lock()
		defer mu.Unlock()
		report.addChunk(rep)
	}

	chunks := make(chan *Chunk)
	var g errgroup.Group
	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			for ch := range chunks {
				collect(o.processChunk(ctx, ch))
			}
			return nil
		})
	}

	dups, err := o.dispatch(ctx, runID, in, chunks, collect)
	close(chunks)
	_ = g.Wait()

	report.Duplicates = dups
	report.FinishedAt = o.now()
	o.logger.Info("archive run finished",
		"run", runID,
		"chunks", report.Chunks,
		"archived", report.Archived,
		"already_archived", report.AlreadyArchived,
		"dead_lettered", report.DeadLettered,
		"failed", report.Failed,
		"abandoned_chunks", report.Abandoned,
	)
	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

// dispatch cuts the candidate stream into chunks and hands them to workers.
// A chunk is flushed when full or when no candidate arrived for
// flushInterval.
func (o *Orchestrator) dispatch(ctx context.Context, runID string, in <-chan record.Candidate, out chan<- *Chunk, collect func(ChunkReport)) (int, error) {
	var pending []record.Candidate
	nextID := 0
	dups := 0

	flush := time.NewTimer(o.flushInterval)
	flush.Stop()
	defer flush.Stop()

	newChunk := func() *Chunk {
		nextID++
		ch := &Chunk{RunID: runID, ID: nextID, Candidates: pending, Status: ChunkPending}
		pending = nil
		return ch
	}

	send := func() error {
		flush.Stop()
		ch := newChunk()
		if err := o.waitDispatch(ctx); err != nil {
			collect(o.abandon(ch))
			return err
		}
		select {
		case out <- ch:
			return nil
		case <-ctx.Done():
			collect(o.abandon(ch))
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			if len(pending) > 0 {
				collect(o.abandon(newChunk()))
			}
			return dups, ctx.Err()

		case c, ok := <-in:
			if !ok {
				if len(pending) > 0 {
					return dups, send()
				}
				return dups, nil
			}
			if err := c.Key.Validate(); err != nil {
				// Never archivable; acknowledged so the watermark moves past it.
				o.logger.Warn("dropping invalid candidate", "error", err)
				invalidCandidates.Inc()
				if o.acker != nil && c.Seq != 0 {
					o.acker.Ack(c.Seq)
				}
				continue
			}
			c.Key = c.Key.Normalize()
			if !o.inflight.Acquire(c.Key, c.Seq) {
				dups++
				duplicateCandidates.Inc()
				continue
			}
			pending = append(pending, c)
			if len(pending) >= o.chunkSize {
				if err := send(); err != nil {
					return dups, err
				}
			} else if len(pending) == 1 {
				flush.Reset(o.flushInterval)
			}

		case <-flush.C:
			if len(pending) > 0 {
				if err := send(); err != nil {
					return dups, err
				}
			}
		}
	}
}

// waitDispatch blocks while the governor is paused or the breaker is open.
func (o *Orchestrator) waitDispatch(ctx context.Context) error {
	for {
		wait := o.governor.PausedFor()
		if b := o.breaker.OpenFor(); b > wait {
			wait = b
		}
		if wait <= 0 {
			return nil
		}
		o.logger.Info("dispatch paused", "for", wait, "breaker", o.breaker.State().String())

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// abandon releases a chunk that never reached a worker.
func (o *Orchestrator) abandon(ch *Chunk) ChunkReport {
	ch.Status = ChunkAbandoned
	for _, c := range ch.Candidates {
		o.inflight.Release(c.Key)
	}
	chunkStatuses.WithLabelValues(string(ChunkAbandoned)).Inc()
	o.logger.Info("chunk abandoned", "run", ch.RunID, "chunk", ch.ID, "records", len(ch.Candidates))
	return ChunkReport{RunID: ch.RunID, ChunkID: ch.ID, Status: ChunkAbandoned, Results: []RecordResult{}}
}

// InFlight returns the number of records currently owned by a chunk.
func (o *Orchestrator) InFlight() int {
	return o.inflight.Len()
}

// Governor returns the orchestrator's throughput governor.
func (o *Orchestrator) Governor() *Governor {
	return o.governor
}

// Breaker returns the orchestrator's circuit breaker.
func (o *Orchestrator) Breaker() *Breaker {
	return o.breaker
}
