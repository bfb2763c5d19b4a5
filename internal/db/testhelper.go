package db

import (
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated SQLite pair in t.TempDir() and registers
// cleanup.
func OpenTestSQLite(t *testing.T) *Pair {
	t.Helper()

	pair, err := OpenSQLitePair(filepath.Join(t.TempDir(), "registry.db"), 4)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = pair.Close() })

	if err := RunMigrations(pair.Write); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return pair
}
