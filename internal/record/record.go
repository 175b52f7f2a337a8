package record

import (
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MaxPayloadSize is the largest payload a record may carry.
const MaxPayloadSize = 300 * 1024

// Key identifies a record. IDs are unique within a partition.
type Key struct {
	PartitionKey string `json:"partition_key" yaml:"partition_key"`
	ID           string `json:"id" yaml:"id"`
}

// Normalize returns the key with both parts in Unicode NFC form.
func (k Key) Normalize() Key {
	return Key{
		PartitionKey: norm.NFC.String(k.PartitionKey),
		ID:           norm.NFC.String(k.ID),
	}
}

// Validate reports whether the key can address a record.
func (k Key) Validate() error {
	if k.PartitionKey == "" {
		return fmt.Errorf("record key: empty partition key")
	}
	if k.ID == "" {
		return fmt.Errorf("record key: empty id")
	}
	return nil
}

// String renders the key as "partition/id" for logs.
func (k Key) String() string {
	return k.PartitionKey + "/" + k.ID
}

// Record is an immutable payload plus the timestamp used for age comparison.
// Archival never mutates a record.
type Record struct {
	Key       Key
	Timestamp time.Time
	Payload   []byte
}

// Validate checks the record invariants enforced on write.
func (r Record) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("record %s: zero timestamp", r.Key)
	}
	if len(r.Payload) > MaxPayloadSize {
		return fmt.Errorf("record %s: payload %d bytes exceeds %d", r.Key, len(r.Payload), MaxPayloadSize)
	}
	return nil
}

// Cursor is a position in the oldest-first scan order of the hot store.
//
// Ordering is (Timestamp, PartitionKey, ID). Backends that page with an
// opaque continuation token (DynamoDB) carry it in Token; the other fields
// still describe the last candidate returned.
type Cursor struct {
	Timestamp    time.Time `json:"timestamp"`
	PartitionKey string    `json:"partition_key"`
	ID           string    `json:"id"`
	Token        string    `json:"token,omitempty"`
}

// IsZero reports whether the cursor points at the start of the scan order.
func (c Cursor) IsZero() bool {
	return c.Timestamp.IsZero() && c.PartitionKey == "" && c.ID == "" && c.Token == ""
}

// Candidate references a record eligible for archival. It is a reference,
// not a copy: the payload stays in the hot store until the worker reads it.
type Candidate struct {
	Key       Key
	Timestamp time.Time

	// Cursor is the scan position of this candidate. Zero for candidates
	// that did not come from a scan (change feed, dead-letter requeue).
	Cursor Cursor

	// Seq is assigned by the scanner's watermark tracker. Zero means the
	// candidate is untracked and is never acknowledged.
	Seq uint64
}

// CursorOf returns the scan cursor positioned at the given candidate.
func CursorOf(key Key, ts time.Time) Cursor {
	return Cursor{Timestamp: ts.UTC(), PartitionKey: key.PartitionKey, ID: key.ID}
}
