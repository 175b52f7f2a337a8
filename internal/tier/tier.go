// Package tier defines the store adapter contracts for the hot and cold
// tiers and the error taxonomy adapters report through.
//
// Adapters never retry internally. Retry and backoff policy lives in the
// archiver and the gateway so it can be tuned in one place.
//
// Put must be read-your-write on the same adapter: after Put returns nil an
// immediate Get or Exists observes the write.
//
// Hot adapters store and look up keys in NFC form (record.Key.Normalize).
// Keys that differ only in Unicode composition address the same record, and
// every key a hot adapter returns is already normalized.
package tier

import (
	"context"
	"time"

	"github.com/roach88/coldline/internal/record"
)

// Hot is the low-latency primary store written by callers.
type Hot interface {
	// Get returns the record or an error matching ErrNotFound.
	Get(ctx context.Context, key record.Key) (record.Record, error)

	// Put stores a record. Records are immutable; writing an existing key
	// again is a no-op.
	Put(ctx context.Context, rec record.Record) error

	// Delete removes a record. Returns an error matching ErrNotFound if the
	// record was already gone.
	Delete(ctx context.Context, key record.Key) error

	// Exists reports whether the record is present.
	Exists(ctx context.Context, key record.Key) (bool, error)

	// ScanOlderThan pages through records written before req.Before in
	// oldest-first order, starting strictly after req.After. Scanning is
	// read-only and must not block writers.
	ScanOlderThan(ctx context.Context, req ScanRequest) (ScanPage, error)
}

// Cold is the low-cost object store archived records move to.
type Cold interface {
	// Get returns the object body or an error matching ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes the object. Rewriting a name with identical content is safe.
	Put(ctx context.Context, name string, body []byte) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Delete removes the object. Used only by operator tooling.
	Delete(ctx context.Context, name string) error
}

// ScanRequest selects one page of eligible records.
type ScanRequest struct {
	// Before is the age cutoff: only records with Timestamp < Before match.
	Before time.Time

	// After resumes the scan strictly after this position. Zero starts at
	// the oldest record.
	After record.Cursor

	// Limit caps the page size. Adapters may return fewer.
	Limit int
}

// ScanPage is one page of scan results.
type ScanPage struct {
	Candidates []record.Candidate

	// Next is the cursor to resume from. Valid even when Done is true.
	Next record.Cursor

	// Done reports that no further records matched at scan time.
	Done bool
}

// Closer is implemented by adapters holding connections or files.
type Closer interface {
	Close() error
}
