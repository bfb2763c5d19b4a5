package db

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	write := buildDSN("/tmp/registry.db", ModeWrite)
	assert.True(t, strings.HasPrefix(write, "/tmp/registry.db?"))
	assert.Contains(t, write, "_journal_mode=WAL")
	assert.Contains(t, write, "_busy_timeout=5000")
	assert.Contains(t, write, "_txlock=immediate")

	read := buildDSN("/tmp/registry.db", ModeRead)
	assert.Contains(t, read, "_synchronous=NORMAL")
	assert.NotContains(t, read, "_txlock")
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), Mode("append"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpenSQLitePair_PoolShapes(t *testing.T) {
	pair, err := OpenSQLitePair(filepath.Join(t.TempDir(), "x.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })

	assert.Equal(t, 1, pair.Write.Stats().MaxOpenConnections)
	assert.Equal(t, 2, pair.Read.Stats().MaxOpenConnections)

	var journal string
	require.NoError(t, pair.Write.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", strings.ToLower(journal))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	pair := OpenTestSQLite(t)

	require.NoError(t, RunMigrations(pair.Write))

	for _, table := range []string{"query_jobs", "discovered_files"} {
		var name string
		err := pair.Read.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestOpenSQLitePair_ConcurrentWrites(t *testing.T) {
	pair := OpenTestSQLite(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := pair.Write.Exec(`
				INSERT INTO discovered_files (path, size_bytes, last_modified, file_type, registered_at)
				VALUES (?, 1, CURRENT_TIMESTAMP, 'other', CURRENT_TIMESTAMP)`,
				filepath.Join("f", string(rune('a'+i))))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, pair.Read.QueryRow(`SELECT COUNT(*) FROM discovered_files`).Scan(&n))
	assert.Equal(t, 20, n)
}
