package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/coldline/internal/record"
)

// LoadCheckpoint returns the saved cursor for a named scanner.
// Returns found=false (and a zero cursor) if none was ever saved.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) (cur record.Cursor, found bool, err error) {
	var ts int64
	err = s.db.QueryRowContext(ctx, `
		SELECT ts, partition_key, id, token FROM scan_checkpoints WHERE name = ?
	`, name).Scan(&ts, &cur.PartitionKey, &cur.ID, &cur.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Cursor{}, false, nil
	}
	if err != nil {
		return record.Cursor{}, false, fmt.Errorf("load checkpoint %q: %w", name, err)
	}
	if ts != 0 {
		cur.Timestamp = time.Unix(0, ts).UTC()
	}
	return cur, true, nil
}

// SaveCheckpoint upserts the cursor for a named scanner.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, cur record.Cursor) error {
	var ts int64
	if !cur.Timestamp.IsZero() {
		ts = cur.Timestamp.UTC().UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_checkpoints (name, ts, partition_key, id, token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ts = excluded.ts,
			partition_key = excluded.partition_key,
			id = excluded.id,
			token = excluded.token,
			updated_at = excluded.updated_at
	`, name, ts, cur.PartitionKey, cur.ID, cur.Token, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", name, err)
	}
	return nil
}

// ResetCheckpoint forgets a scanner's position so the next scan starts at
// the oldest record. Resetting an unknown name is not an error.
func (s *Store) ResetCheckpoint(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scan_checkpoints WHERE name = ?`, name); err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", name, err)
	}
	return nil
}
