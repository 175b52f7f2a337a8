package archiver

import (
	"sync"

	"github.com/roach88/coldline/internal/record"
)

// inFlight tracks record identities currently owned by a chunk so the same
// record is never processed by two workers at once. This happens when the
// periodic scan and the change feed both emit a record.
//
// A duplicate candidate is not processed. Its watermark sequence joins the
// owning entry and is acknowledged when the owner reaches a terminal outcome.
//
// Thread-safe: can be called concurrently.
type inFlight struct {
	mu     sync.Mutex
	owners map[record.Key][]uint64
}

func newInFlight() *inFlight {
	return &inFlight{owners: make(map[record.Key][]uint64)}
}

// Acquire claims key. Returns false if it is already claimed, in which case
// seq (if non-zero) is attached to the existing claim.
func (f *inFlight) Acquire(key record.Key, seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if joined, ok := f.owners[key]; ok {
		if seq != 0 {
			f.owners[key] = append(joined, seq)
		}
		return false
	}
	f.owners[key] = nil
	return true
}

// Release drops the claim and returns the sequences of duplicates that
// joined it.
func (f *inFlight) Release(key record.Key) []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	joined := f.owners[key]
	delete(f.owners, key)
	return joined
}

// Len returns the number of claimed identities.
func (f *inFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.owners)
}
