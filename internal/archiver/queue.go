package archiver

import (
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/coldline/internal/record"
)

// work is one record being driven through its state machine within a chunk.
type work struct {
	index     int
	cand      record.Candidate
	attempts  int
	readyAt   time.Time
	backoff   *backoff.ExponentialBackOff
	firstSeen time.Time
}

// retryQueue holds a chunk's records ordered by the time they may next be
// attempted. New records are ready immediately; failed records come back
// with a backoff delay, so every record gets its first attempt before any
// retry runs.
//
// The queue uses a buffered signal channel so waiters can select on it
// together with a timer and context cancellation.
type retryQueue struct {
	mu     sync.Mutex
	items  []*work
	signal chan struct{} // buffered, size 1
}

func newRetryQueue(capacity int) *retryQueue {
	return &retryQueue{
		items:  make([]*work, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Push inserts w keeping readyAt order. Items with equal readyAt stay FIFO.
func (q *retryQueue) Push(w *work) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].readyAt.After(w.readyAt)
	})
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = w

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop removes the earliest item if it is ready at now. Otherwise it
// returns how long until the earliest item is ready, or -1 if empty.
func (q *retryQueue) TryPop(now time.Time) (*work, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, -1
	}
	head := q.items[0]
	if wait := head.readyAt.Sub(now); wait > 0 {
		return nil, wait
	}
	q.items[0] = nil
	q.items = q.items[1:]
	return head, 0
}

// Wait returns a channel that signals when an item may have been pushed.
func (q *retryQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued items.
func (q *retryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
