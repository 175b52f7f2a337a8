// Package sqlitehot implements the hot tier on a local SQLite database.
//
// Records live in a single table keyed by (partition_key, id). The scan
// index on (ts, partition_key, id) serves ScanOlderThan in oldest-first
// order. WAL mode lets scans run without blocking writers.
package sqlitehot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/store"
	"github.com/roach88/coldline/internal/tier"
)

const backend = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS records (
    partition_key TEXT NOT NULL,
    id TEXT NOT NULL,
    ts INTEGER NOT NULL,
    payload BLOB NOT NULL,
    PRIMARY KEY (partition_key, id)
);

CREATE INDEX IF NOT EXISTS idx_records_scan ON records(ts, partition_key, id);
`

// Store is a hot tier backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ tier.Hot = (*Store)(nil)

// Open creates or opens the hot database at path.
func Open(path string) (*Store, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply hot schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, key record.Key) (record.Record, error) {
	key = key.Normalize()
	var ts int64
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT ts, payload FROM records WHERE partition_key = ? AND id = ?`,
		key.PartitionKey, key.ID,
	).Scan(&ts, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, tier.NotFound(backend, "get", key.String())
	}
	if err != nil {
		return record.Record{}, classify("get", key.String(), err)
	}
	if payload == nil {
		payload = []byte{}
	}
	return record.Record{Key: key, Timestamp: time.Unix(0, ts).UTC(), Payload: payload}, nil
}

// Put inserts the record. Writing an existing key is a no-op.
func (s *Store) Put(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Key = rec.Key.Normalize()
	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (partition_key, id, ts, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(partition_key, id) DO NOTHING
	`, rec.Key.PartitionKey, rec.Key.ID, rec.Timestamp.UnixNano(), payload)
	if err != nil {
		return classify("put", rec.Key.String(), err)
	}
	return nil
}

// Delete removes the record. Returns a not-found error if it was already gone.
func (s *Store) Delete(ctx context.Context, key record.Key) error {
	key = key.Normalize()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE partition_key = ? AND id = ?`,
		key.PartitionKey, key.ID,
	)
	if err != nil {
		return classify("delete", key.String(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete", key.String(), err)
	}
	if n == 0 {
		return tier.NotFound(backend, "delete", key.String())
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key record.Key) (bool, error) {
	key = key.Normalize()
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE partition_key = ? AND id = ?`,
		key.PartitionKey, key.ID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("exists", key.String(), err)
	}
	return true, nil
}

// ScanOlderThan returns up to req.Limit records with ts < req.Before,
// ordered by (ts, partition_key, id) and starting strictly after req.After.
//
// Keys compare with BINARY collation so the order matches Go string
// comparison and resuming from a cursor never skips or repeats a row.
func (s *Store) ScanOlderThan(ctx context.Context, req tier.ScanRequest) (tier.ScanPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT partition_key, id, ts FROM records WHERE ts < ?`
	args := []any{req.Before.UnixNano()}
	if !req.After.IsZero() {
		after := req.After.Timestamp.UnixNano()
		query += ` AND (ts > ? OR (ts = ? AND (partition_key > ? OR (partition_key = ? AND id > ?))))`
		args = append(args, after, after, req.After.PartitionKey, req.After.PartitionKey, req.After.ID)
	}
	query += ` ORDER BY ts, partition_key COLLATE BINARY, id COLLATE BINARY LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return tier.ScanPage{}, classify("scan", "", err)
	}
	defer rows.Close()

	page := tier.ScanPage{Next: req.After}
	for rows.Next() {
		var key record.Key
		var ts int64
		if err := rows.Scan(&key.PartitionKey, &key.ID, &ts); err != nil {
			return tier.ScanPage{}, fmt.Errorf("scan candidate row: %w", err)
		}
		when := time.Unix(0, ts).UTC()
		cur := record.CursorOf(key, when)
		page.Candidates = append(page.Candidates, record.Candidate{
			Key:       key,
			Timestamp: when,
			Cursor:    cur,
		})
		page.Next = cur
	}
	if err := rows.Err(); err != nil {
		return tier.ScanPage{}, classify("scan", "", err)
	}

	page.Done = len(page.Candidates) < limit
	return page, nil
}

// Count returns the number of records in the hot tier.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, classify("count", "", err)
	}
	return n, nil
}

// classify maps SQLite lock contention to throttling and everything else to
// a transient failure.
func classify(op, name string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked {
			return tier.Throttled(backend, op, name, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return tier.Unavailable(backend, op, name, err)
}
