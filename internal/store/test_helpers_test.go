package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/coldline/internal/record"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestDeadLetter creates a dead letter with minimal required fields.
func createTestDeadLetter(partition, id string, attempts int) DeadLetter {
	seen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return DeadLetter{
		Key:             record.Key{PartitionKey: partition, ID: id},
		RecordTimestamp: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		Reason:          "cold put: UNAVAILABLE",
		Attempts:        attempts,
		FirstSeen:       seen,
		LastSeen:        seen,
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
