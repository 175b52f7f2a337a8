package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"dead_letters", "scan_checkpoints"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSchema_DeadLettersTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "dead_letters")
	expected := []string{
		"seq", "partition_key", "id", "record_ts", "reason", "attempts",
		"first_seen", "last_seen", "status", "note", "updated_at",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("dead_letters table missing column %q", col)
		}
	}
}

func TestSchema_ActiveDeadLetterIndexIsUnique(t *testing.T) {
	s := createTestStore(t)

	insert := `INSERT INTO dead_letters
		(partition_key, id, record_ts, reason, attempts, first_seen, last_seen, status, updated_at)
		VALUES ('p', '1', 0, 'r', 1, 0, 0, ?, 0)`

	if _, err := s.db.Exec(insert, "open"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := s.db.Exec(insert, "open"); err == nil {
		t.Error("expected unique violation for second open entry")
	}
	// Inactive entries for the same key are allowed.
	if _, err := s.db.Exec(insert, "resolved"); err != nil {
		t.Errorf("resolved duplicate should be allowed: %v", err)
	}
}
