package scanner

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/coldline/internal/record"
)

// CheckpointStore persists scan positions. Implemented by *store.Store.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, name string) (record.Cursor, bool, error)
	SaveCheckpoint(ctx context.Context, name string, cur record.Cursor) error
}

// Tracker assigns sequence numbers to emitted candidates and maintains the
// watermark: the cursor of the highest candidate such that it and every
// candidate emitted before it reached a terminal outcome.
//
// Acknowledgements may arrive in any order. A candidate that never reaches
// a terminal outcome (abandoned on shutdown) holds the watermark back, so a
// restart resumes before it. A candidate that failed is handed back by
// TakeFailed under its original sequence number and keeps holding the
// watermark until a later attempt acknowledges it.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	cp   CheckpointStore
	name string

	next      uint64 // next sequence number to assign
	low       uint64 // highest contiguous acknowledged sequence
	cursors   map[uint64]record.Cursor
	acked     map[uint64]bool
	failed    map[uint64]bool
	watermark record.Cursor
	dirty     bool
}

// NewTracker creates a tracker saving to cp under name. A nil cp keeps the
// watermark in memory only.
func NewTracker(cp CheckpointStore, name string) *Tracker {
	return &Tracker{
		cp:      cp,
		name:    name,
		next:    1,
		cursors: make(map[uint64]record.Cursor),
		acked:   make(map[uint64]bool),
		failed:  make(map[uint64]bool),
	}
}

// Emit registers a candidate at cur and returns its sequence number.
func (t *Tracker) Emit(cur record.Cursor) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.next
	t.next++
	t.cursors[seq] = cur
	return seq
}

// Ack marks seq terminal. Unknown or repeated sequence numbers are ignored.
func (t *Tracker) Ack(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cursors[seq]; !ok || seq <= t.low {
		return
	}
	t.acked[seq] = true
	delete(t.failed, seq)
	for t.acked[t.low+1] {
		t.low++
		t.watermark = t.cursors[t.low]
		t.dirty = true
		delete(t.acked, t.low)
		delete(t.cursors, t.low)
	}
}

// Nack marks seq as failed. It stays outstanding and is returned by the
// next TakeFailed. Unknown or acknowledged sequence numbers are ignored.
func (t *Tracker) Nack(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cursors[seq]; !ok || seq <= t.low || t.acked[seq] {
		return
	}
	t.failed[seq] = true
}

// TakeFailed returns a candidate for every failed sequence number, oldest
// first, and clears the failed set. Each candidate keeps its sequence
// number.
func (t *Tracker) TakeFailed() []record.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.failed) == 0 {
		return nil
	}
	seqs := make([]uint64, 0, len(t.failed))
	for seq := range t.failed {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)

	out := make([]record.Candidate, len(seqs))
	for i, seq := range seqs {
		cur := t.cursors[seq]
		out[i] = record.Candidate{
			Key:       record.Key{PartitionKey: cur.PartitionKey, ID: cur.ID},
			Timestamp: cur.Timestamp,
			Cursor:    cur,
			Seq:       seq,
		}
	}
	clear(t.failed)
	return out
}

// Failed returns the number of failed candidates waiting for TakeFailed.
func (t *Tracker) Failed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failed)
}

// Watermark returns the current watermark and whether any candidate has
// been acknowledged since the tracker was created.
func (t *Tracker) Watermark() (record.Cursor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark, t.low > 0
}

// Outstanding returns the number of emitted candidates not yet covered by
// the watermark.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cursors)
}

// Flush saves the watermark if it moved since the last flush.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if !t.dirty || t.cp == nil {
		t.mu.Unlock()
		return nil
	}
	cur := t.watermark
	t.dirty = false
	t.mu.Unlock()

	if err := t.cp.SaveCheckpoint(ctx, t.name, cur); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return err
	}
	return nil
}
