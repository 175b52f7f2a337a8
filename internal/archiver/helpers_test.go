package archiver

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/store"
	"github.com/roach88/coldline/internal/testutil"
	"github.com/roach88/coldline/internal/tier"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var fastPolicy = RetryPolicy{
	MaxAttempts: 3,
	Base:        time.Millisecond,
	Factor:      2,
	Cap:         5 * time.Millisecond,
	Jitter:      0.01,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingObserver struct {
	mu           sync.Mutex
	reports      []ChunkReport
	events       []Event
	deadLettered []Event
}

func (o *recordingObserver) DeadLettered(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deadLettered = append(o.deadLettered, ev)
}

func (o *recordingObserver) ChunkFinished(rep ChunkReport, events []Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, rep)
	o.events = append(o.events, events...)
}

func (o *recordingObserver) result(key record.Key) (Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ev := range o.events {
		if ev.Key == key {
			return ev, true
		}
	}
	return Event{}, false
}

type recordingAcker struct {
	mu     sync.Mutex
	seqs   []uint64
	nacked []uint64
}

func (a *recordingAcker) Ack(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seqs = append(a.seqs, seq)
}

func (a *recordingAcker) Nack(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, seq)
}

func (a *recordingAcker) acked() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.seqs...)
}

func (a *recordingAcker) nacks() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.nacked...)
}

type fixture struct {
	hot   *testutil.MemHot
	mem   *testutil.MemCold
	cold  *testutil.FaultyCold
	store *store.Store
	obs   *recordingObserver
	acks  *recordingAcker
	seq   uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mem := testutil.NewMemCold()
	return &fixture{
		hot:   testutil.NewMemHot(),
		mem:   mem,
		cold:  testutil.NewFaultyCold(mem),
		store: s,
		obs:   &recordingObserver{},
		acks:  &recordingAcker{},
	}
}

func (f *fixture) options(extra ...Option) []Option {
	opts := []Option{
		WithRetryPolicy(fastPolicy),
		WithSink(f.store),
		WithAcker(f.acks),
		WithObserver(f.obs),
		WithFlushInterval(5 * time.Millisecond),
		WithIDGenerator(testutil.NewFixedIDGenerator("run-1")),
		WithLogger(discardLogger()),
		WithWorkers(2),
	}
	return append(opts, extra...)
}

func (f *fixture) orchestrator(extra ...Option) *Orchestrator {
	return New(f.hot, f.cold, f.options(extra...)...)
}

// put writes records to the hot tier and returns tracked candidates.
func (f *fixture) put(t *testing.T, ids ...string) []record.Candidate {
	t.Helper()
	var cands []record.Candidate
	for i, id := range ids {
		key := record.Key{PartitionKey: "p", ID: id}
		ts := epoch.Add(time.Duration(i) * time.Second)
		require.NoError(t, f.hot.Put(context.Background(), record.Record{
			Key:       key,
			Timestamp: ts,
			Payload:   []byte(`{"id":"` + id + `"}`),
		}))
		f.seq++
		cands = append(cands, record.Candidate{Key: key, Timestamp: ts, Cursor: record.CursorOf(key, ts), Seq: f.seq})
	}
	return cands
}

func feed(cands []record.Candidate) <-chan record.Candidate {
	ch := make(chan record.Candidate, len(cands))
	for _, c := range cands {
		ch <- c
	}
	close(ch)
	return ch
}

func key(id string) record.Key {
	return record.Key{PartitionKey: "p", ID: id}
}

func coldName(id string) string {
	return record.ColdName(key(id))
}

// blockingCold never completes a put until the context ends.
type blockingCold struct {
	tier.Cold
	started chan struct{}
	once    sync.Once
}

func (b *blockingCold) Put(ctx context.Context, name string, body []byte) error {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

// failingSink rejects every dead-letter write.
type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *failingSink) WriteDeadLetter(context.Context, store.DeadLetter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return false, io.ErrUnexpectedEOF
}
