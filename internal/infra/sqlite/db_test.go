package sqlite

import (
	"path/filepath"
	"testing"
)

// newTestDB opens a fresh database in a per-test temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "credgate.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	// All four tables should exist and be queryable.
	for _, table := range []string{"ledger_entries", "wallets", "signup_risk", "abuse_counters"} {
		var count int
		if err := db.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			t.Errorf("table %s not queryable: %v", table, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credgate.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.Close()

	// Migrations are idempotent — reopening must not fail.
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	db2.Close()
}
