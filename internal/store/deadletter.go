package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/coldline/internal/record"
)

// DeadLetterStatus is the operator-facing lifecycle state of an entry.
type DeadLetterStatus string

const (
	StatusOpen           DeadLetterStatus = "open"
	StatusPendingRequeue DeadLetterStatus = "pending_requeue"
	StatusRequeued       DeadLetterStatus = "requeued"
	StatusResolved       DeadLetterStatus = "resolved"
)

// ErrDeadLetterNotFound is returned when no entry matches a key.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DeadLetter is a permanently failed archival attempt held for remediation.
type DeadLetter struct {
	Seq             int64
	Key             record.Key
	RecordTimestamp time.Time
	Reason          string
	Attempts        int
	FirstSeen       time.Time
	LastSeen        time.Time
	Status          DeadLetterStatus
	Note            string
}

// Candidate returns a fresh archival candidate for the entry's record.
// The attempt count starts over; the candidate is untracked (Seq 0).
func (d DeadLetter) Candidate() record.Candidate {
	return record.Candidate{Key: d.Key, Timestamp: d.RecordTimestamp}
}

// DeadLetterFilter narrows ListDeadLetters.
type DeadLetterFilter struct {
	// Statuses to include. Empty means open and pending_requeue.
	Statuses []DeadLetterStatus

	// Limit caps the result size. Zero means no limit.
	Limit int
}

// WriteDeadLetter appends a dead-letter entry, or folds it into the active
// entry for the same key.
//
// Re-failing a record that already has an open (or pending_requeue) entry
// adds dl.Attempts to that entry, replaces its reason and last_seen, and
// keeps first_seen. Returns inserted=true when a new row was created.
func (s *Store) WriteDeadLetter(ctx context.Context, dl DeadLetter) (inserted bool, err error) {
	key := dl.Key.Normalize()
	if err := key.Validate(); err != nil {
		return false, fmt.Errorf("write dead letter: %w", err)
	}
	if dl.FirstSeen.IsZero() {
		dl.FirstSeen = time.Now()
	}
	if dl.LastSeen.IsZero() {
		dl.LastSeen = dl.FirstSeen
	}
	now := time.Now().UTC().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write dead letter: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT seq FROM dead_letters
		WHERE partition_key = ? AND id = ? AND status IN ('open', 'pending_requeue')
	`, key.PartitionKey, key.ID).Scan(&seq)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dead_letters
			(partition_key, id, record_ts, reason, attempts, first_seen, last_seen, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'open', ?)
		`,
			key.PartitionKey,
			key.ID,
			dl.RecordTimestamp.UTC().UnixNano(),
			dl.Reason,
			dl.Attempts,
			dl.FirstSeen.UTC().UnixNano(),
			dl.LastSeen.UTC().UnixNano(),
			now,
		)
		if err != nil {
			return false, fmt.Errorf("write dead letter: insert: %w", err)
		}
		inserted = true

	case err != nil:
		return false, fmt.Errorf("write dead letter: select active: %w", err)

	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE dead_letters
			SET attempts = attempts + ?, reason = ?, last_seen = ?, updated_at = ?
			WHERE seq = ?
		`, dl.Attempts, dl.Reason, dl.LastSeen.UTC().UnixNano(), now, seq)
		if err != nil {
			return false, fmt.Errorf("write dead letter: update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write dead letter: commit: %w", err)
	}
	return inserted, nil
}

// ListDeadLetters returns entries in append order (oldest first).
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListDeadLetters(ctx context.Context, f DeadLetterFilter) ([]DeadLetter, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []DeadLetterStatus{StatusOpen, StatusPendingRequeue}
	}

	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}

	query := `
		SELECT seq, partition_key, id, record_ts, reason, attempts, first_seen, last_seen, status, note
		FROM dead_letters
		WHERE status IN (` + placeholders(len(statuses)) + `)
		ORDER BY seq ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	entries := []DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return entries, nil
}

// GetDeadLetter returns the most recent entry for a key, in any status.
// Returns ErrDeadLetterNotFound if the key was never dead-lettered.
func (s *Store) GetDeadLetter(ctx context.Context, key record.Key) (DeadLetter, error) {
	key = key.Normalize()
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, partition_key, id, record_ts, reason, attempts, first_seen, last_seen, status, note
		FROM dead_letters
		WHERE partition_key = ? AND id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, key.PartitionKey, key.ID)

	dl, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeadLetter{}, fmt.Errorf("get dead letter %s: %w", key, ErrDeadLetterNotFound)
	}
	return dl, err
}

// MarkRequeue moves the open entries for the given keys to pending_requeue.
// An empty key list marks every open entry. Returns the number marked.
func (s *Store) MarkRequeue(ctx context.Context, keys []record.Key) (int, error) {
	now := time.Now().UTC().UnixNano()

	if len(keys) == 0 {
		res, err := s.db.ExecContext(ctx, `
			UPDATE dead_letters SET status = 'pending_requeue', updated_at = ?
			WHERE status = 'open'
		`, now)
		if err != nil {
			return 0, fmt.Errorf("mark requeue: %w", err)
		}
		n, err := res.RowsAffected()
		return int(n), err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mark requeue: begin tx: %w", err)
	}
	defer tx.Rollback()

	total := 0
	for _, k := range keys {
		k = k.Normalize()
		res, err := tx.ExecContext(ctx, `
			UPDATE dead_letters SET status = 'pending_requeue', updated_at = ?
			WHERE partition_key = ? AND id = ? AND status = 'open'
		`, now, k.PartitionKey, k.ID)
		if err != nil {
			return 0, fmt.Errorf("mark requeue %s: %w", k, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mark requeue %s: rows affected: %w", k, err)
		}
		total += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mark requeue: commit: %w", err)
	}
	return total, nil
}

// ClaimRequeued atomically flips up to limit pending_requeue entries to
// requeued and returns them. Each entry is claimed exactly once, so two
// requeue triggers never re-inject the same record.
func (s *Store) ClaimRequeued(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim requeued: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, partition_key, id, record_ts, reason, attempts, first_seen, last_seen, status, note
		FROM dead_letters
		WHERE status = 'pending_requeue'
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim requeued: query: %w", err)
	}

	claimed := []DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, dl)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("claim requeued: iterate: %w", err)
	}
	rows.Close()

	now := time.Now().UTC().UnixNano()
	for i := range claimed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dead_letters SET status = 'requeued', updated_at = ? WHERE seq = ?
		`, now, claimed[i].Seq); err != nil {
			return nil, fmt.Errorf("claim requeued: update %d: %w", claimed[i].Seq, err)
		}
		claimed[i].Status = StatusRequeued
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim requeued: commit: %w", err)
	}
	return claimed, nil
}

// Resolve closes the active entry for a key with an operator note.
// Returns ErrDeadLetterNotFound if the key has no active entry.
func (s *Store) Resolve(ctx context.Context, key record.Key, note string) error {
	key = key.Normalize()
	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letters SET status = 'resolved', note = ?, updated_at = ?
		WHERE partition_key = ? AND id = ? AND status IN ('open', 'pending_requeue')
	`, note, time.Now().UTC().UnixNano(), key.PartitionKey, key.ID)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve %s: rows affected: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve %s: %w", key, ErrDeadLetterNotFound)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(r rowScanner) (DeadLetter, error) {
	var (
		dl                    DeadLetter
		recordTS, first, last int64
		status                string
	)
	err := r.Scan(
		&dl.Seq,
		&dl.Key.PartitionKey,
		&dl.Key.ID,
		&recordTS,
		&dl.Reason,
		&dl.Attempts,
		&first,
		&last,
		&status,
		&dl.Note,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DeadLetter{}, err
		}
		return DeadLetter{}, fmt.Errorf("scan dead letter: %w", err)
	}
	dl.RecordTimestamp = time.Unix(0, recordTS).UTC()
	dl.FirstSeen = time.Unix(0, first).UTC()
	dl.LastSeen = time.Unix(0, last).UTC()
	dl.Status = DeadLetterStatus(status)
	return dl, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
