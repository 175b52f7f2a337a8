package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/coldline/internal/archiver"
	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/scanner"
	"github.com/roach88/coldline/internal/store"
	"github.com/roach88/coldline/internal/testutil"
)

// Harness holds the engine and in-memory tiers for one scenario run.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	clock    *testutil.ManualClock
	ops      *testutil.OpLog
	hot      *testutil.MemHot
	cold     *testutil.MemCold
	faults   *testutil.FaultyCold
	scanner  *scanner.Scanner
	orch     *archiver.Orchestrator
	outcomes *outcomeRecorder
	logger   *slog.Logger

	capacity int
	passes   []PassSummary
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory tiers and an in-memory state
// database. The clock is fixed at the scenario's Now and the run ID is the
// scenario name, so results are reproducible.
//
// Execution flow:
//  1. Seed the hot tier and configure cold-tier faults
//  2. Run each step (archive, requeue, heal) in order
//  3. Capture the final state as a Snapshot
//  4. Evaluate assertions against the snapshot and the operation log
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	h := newHarness(scenario, st, logger)
	if err := h.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed records: %w", err)
	}

	for i, step := range scenario.steps() {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step, err)
		}
	}

	snap, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}

	result := NewResult()
	result.Snapshot = snap
	result.Ops = h.ops.Ops()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario, st *store.Store, logger *slog.Logger) *Harness {
	h := &Harness{
		scenario: s,
		store:    st,
		clock:    testutil.NewManualClock(s.now()),
		ops:      testutil.NewOpLog(),
		hot:      testutil.NewMemHot(),
		cold:     testutil.NewMemCold(),
		outcomes: &outcomeRecorder{},
		logger:   logger,
		capacity: len(s.Records) + 1,
	}
	h.faults = testutil.NewFaultyCold(h.cold)
	hot := testutil.LoggedHot{Hot: h.hot, Log: h.ops}
	cold := testutil.LoggedCold{Cold: h.faults, Log: h.ops}

	set := s.Settings
	threshold := scanner.DefaultThreshold
	if set.ThresholdDays > 0 {
		threshold = time.Duration(set.ThresholdDays) * 24 * time.Hour
	}
	h.scanner = scanner.New(hot, st,
		scanner.WithName(s.Name),
		scanner.WithThreshold(threshold),
		scanner.WithClock(h.clock.Now),
		scanner.WithLogger(logger),
	)

	verify := true
	if set.VerifyContent != nil {
		verify = *set.VerifyContent
	}
	opts := []archiver.Option{
		archiver.WithRetryPolicy(archiver.RetryPolicy{
			MaxAttempts: set.MaxAttempts,
			Base:        time.Millisecond,
			Factor:      2,
			Cap:         5 * time.Millisecond,
			Jitter:      0.01,
		}),
		archiver.WithGovernor(archiver.NewGovernor(archiver.GovernorConfig{Pause: 10 * time.Millisecond})),
		archiver.WithSink(st),
		archiver.WithAcker(h.scanner.Tracker()),
		archiver.WithObserver(h.outcomes),
		archiver.WithClock(h.clock.Now),
		archiver.WithIDGenerator(testutil.NewFixedIDGenerator(s.Name)),
		archiver.WithLogger(logger),
		archiver.WithVerifyContent(verify),
	}
	if set.ChunkSize > 0 {
		opts = append(opts, archiver.WithChunkSize(set.ChunkSize))
	}
	if set.Workers > 0 {
		opts = append(opts, archiver.WithWorkers(set.Workers))
	}
	h.orch = archiver.New(hot, cold, opts...)
	return h
}

// seed writes the scenario records and installs faults.
func (h *Harness) seed(ctx context.Context) error {
	now := h.clock.Now()
	for _, r := range h.scenario.Records {
		key, err := ParseKey(r.Key)
		if err != nil {
			return err
		}
		payload := r.Payload
		if payload == "" {
			payload = fmt.Sprintf(`{"key":%q}`, key.String())
		}
		err = h.hot.Put(ctx, record.Record{
			Key:       key,
			Timestamp: now.Add(-time.Duration(r.AgeDays) * 24 * time.Hour),
			Payload:   []byte(payload),
		})
		if err != nil {
			return err
		}
	}

	for _, f := range h.scenario.Faults {
		key, err := ParseKey(f.Key)
		if err != nil {
			return err
		}
		name := record.ColdName(key)
		if f.FailPuts != 0 {
			h.faults.FailPuts(name, f.FailPuts)
		}
		if f.Throttle {
			h.faults.ThrottlePuts(name)
		}
		if f.CorruptPuts != 0 {
			h.faults.CorruptPuts(name, f.CorruptPuts)
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step string) error {
	switch step {
	case StepArchive:
		in := make(chan record.Candidate, h.capacity)
		stats, err := h.scanner.ScanOnce(ctx, in)
		close(in)
		if err != nil {
			return err
		}
		if err := h.archive(ctx, step, stats.Candidates, in); err != nil {
			return err
		}
		return h.scanner.Flush(ctx)

	case StepRequeue:
		if _, err := h.store.MarkRequeue(ctx, nil); err != nil {
			return err
		}
		in := make(chan record.Candidate, h.capacity)
		trig := &scanner.RequeueTrigger{Source: h.store, Batch: h.capacity - 1, Logger: h.logger}
		n, err := trig.Poll(ctx, in)
		close(in)
		if err != nil {
			return err
		}
		return h.archive(ctx, step, n, in)

	case StepHeal:
		h.faults.Heal("")
		return nil
	}
	return fmt.Errorf("unknown step %q", step)
}

// archive drains a fully buffered candidate channel through the
// orchestrator, so chunk boundaries do not depend on timing.
func (h *Harness) archive(ctx context.Context, step string, candidates int, in <-chan record.Candidate) error {
	pass := len(h.passes) + 1
	h.outcomes.setPass(pass)
	rep, err := h.orch.Run(ctx, in)
	if err != nil {
		return err
	}
	h.passes = append(h.passes, PassSummary{
		Step:            step,
		Candidates:      candidates,
		Chunks:          rep.Chunks,
		PartialChunks:   rep.PartialFailure,
		Archived:        rep.Archived,
		AlreadyArchived: rep.AlreadyArchived,
		DeadLettered:    rep.DeadLettered,
		Failed:          rep.Failed,
	})
	return nil
}

func (h *Harness) snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Scenario:    h.scenario.Name,
		Passes:      h.passes,
		Outcomes:    h.outcomes.sorted(),
		Hot:         []string{},
		Cold:        []string{},
		DeadLetters: []DeadLetterRow{},
	}
	if snap.Passes == nil {
		snap.Passes = []PassSummary{}
	}

	for _, k := range h.hot.Keys() {
		snap.Hot = append(snap.Hot, k.String())
	}
	for _, name := range h.cold.Names() {
		k, err := record.KeyFromColdName(name)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Cold = append(snap.Cold, k.String())
	}
	sort.Strings(snap.Cold)

	dls, err := h.store.ListDeadLetters(ctx, store.DeadLetterFilter{Statuses: []store.DeadLetterStatus{
		store.StatusOpen, store.StatusPendingRequeue, store.StatusRequeued, store.StatusResolved,
	}})
	if err != nil {
		return Snapshot{}, err
	}
	for _, dl := range dls {
		code, _, _ := strings.Cut(dl.Reason, ":")
		snap.DeadLetters = append(snap.DeadLetters, DeadLetterRow{
			Key:      dl.Key.String(),
			Status:   string(dl.Status),
			Attempts: dl.Attempts,
			Code:     code,
		})
	}

	cur, found, err := h.store.LoadCheckpoint(ctx, h.scenario.Name)
	if err != nil {
		return Snapshot{}, err
	}
	if found {
		snap.Checkpoint = cur.PartitionKey + "/" + cur.ID + "@" + cur.Timestamp.Format(time.RFC3339)
	}
	return snap, nil
}

// outcomeRecorder collects record outcomes per pass.
type outcomeRecorder struct {
	mu      sync.Mutex
	pass    int
	entries []OutcomeEntry
}

func (r *outcomeRecorder) setPass(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pass = p
}

// DeadLettered implements archiver.Observer.
func (r *outcomeRecorder) DeadLettered(archiver.Event) {}

// ChunkFinished implements archiver.Observer.
func (r *outcomeRecorder) ChunkFinished(_ archiver.ChunkReport, events []archiver.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		r.entries = append(r.entries, OutcomeEntry{
			Pass:     r.pass,
			Key:      ev.Key.String(),
			Outcome:  string(ev.Outcome),
			Attempts: ev.Attempts,
		})
	}
}

func (r *outcomeRecorder) sorted() []OutcomeEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]OutcomeEntry{}, r.entries...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pass != out[j].Pass {
			return out[i].Pass < out[j].Pass
		}
		return out[i].Key < out[j].Key
	})
	return out
}
