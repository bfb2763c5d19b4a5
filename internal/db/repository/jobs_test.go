package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-flight/internal/db"
	"duck-flight/internal/domain"
	"duck-flight/internal/fingerprint"
)

func newJobRepo(t *testing.T) *JobRepo {
	t.Helper()
	pair := db.OpenTestSQLite(t)
	return NewJobRepo(pair.Write, pair.Read)
}

func insertJob(t *testing.T, repo *JobRepo, sql string) *domain.Job {
	t.Helper()
	job := &domain.Job{ID: domain.NewID(), SQLText: sql, Fingerprint: fingerprint.Of(sql)}
	require.NoError(t, repo.Insert(context.Background(), job))
	return job
}

func TestJobRepo_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newJobRepo(t)

	job := insertJob(t, repo, "SELECT 42")

	loaded, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, loaded.Status)
	assert.Equal(t, "SELECT 42", loaded.SQLText)
	assert.Nil(t, loaded.CompletedAt)
	assert.Nil(t, loaded.CacheKey)
	assert.Nil(t, loaded.ErrorDetail)

	done := time.Now()
	err = repo.MarkReady(ctx, job.ID, domain.ReadyResult{
		CacheKey: "results/" + job.Fingerprint + ".json.gz",
		Format:   domain.FormatCompressedRows,
		RowCount: 1,
		ByteSize: 31,
	}, done)
	require.NoError(t, err)

	loaded, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusReady, loaded.Status)
	require.NotNil(t, loaded.Format)
	assert.Equal(t, domain.FormatCompressedRows, *loaded.Format)
	require.NotNil(t, loaded.RowCount)
	assert.EqualValues(t, 1, *loaded.RowCount)
	require.NotNil(t, loaded.ByteSize)
	assert.EqualValues(t, 31, *loaded.ByteSize)
	require.NotNil(t, loaded.CompletedAt)
	assert.WithinDuration(t, done, *loaded.CompletedAt, time.Millisecond)
	assert.Nil(t, loaded.ErrorDetail)
}

func TestJobRepo_InsertDuplicate(t *testing.T) {
	t.Parallel()
	repo := newJobRepo(t)
	job := insertJob(t, repo, "SELECT 1")

	err := repo.Insert(context.Background(), &domain.Job{ID: job.ID, SQLText: "SELECT 2", Fingerprint: fingerprint.Of("SELECT 2")})
	var dup *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Contains(t, dup.Error(), job.ID)
}

func TestJobRepo_TransitionsAreMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newJobRepo(t)

	ready := insertJob(t, repo, "SELECT 1")
	require.NoError(t, repo.MarkReady(ctx, ready.ID, domain.ReadyResult{
		CacheKey: "results/a.arrow", Format: domain.FormatColumnarStream, RowCount: 1, ByteSize: 10,
	}, time.Now()))

	failed := insertJob(t, repo, "SELECT 2")
	require.NoError(t, repo.MarkError(ctx, failed.ID, "Catalog Error: table not found", time.Now()))

	tests := []struct {
		name string
		fn   func() error
		from domain.JobStatus
	}{
		{"ready to error", func() error { return repo.MarkError(ctx, ready.ID, "late", time.Now()) }, domain.JobStatusReady},
		{"ready to ready", func() error {
			return repo.MarkReady(ctx, ready.ID, domain.ReadyResult{CacheKey: "results/b.arrow", Format: domain.FormatColumnarStream}, time.Now())
		}, domain.JobStatusReady},
		{"error to ready", func() error {
			return repo.MarkReady(ctx, failed.ID, domain.ReadyResult{CacheKey: "results/c.arrow", Format: domain.FormatColumnarStream}, time.Now())
		}, domain.JobStatusError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var inv *domain.InvalidTransitionError
			require.ErrorAs(t, tc.fn(), &inv)
			assert.Equal(t, tc.from, inv.From)
		})
	}

	loaded, err := repo.GetByID(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, "results/a.arrow", *loaded.CacheKey)

	loaded, err = repo.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, loaded.Status)
	assert.Equal(t, "Catalog Error: table not found", *loaded.ErrorDetail)
	assert.Nil(t, loaded.CacheKey)
}

func TestJobRepo_UnknownJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newJobRepo(t)

	_, err := repo.GetByID(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))

	err = repo.MarkReady(ctx, "missing", domain.ReadyResult{CacheKey: "k", Format: domain.FormatColumnarStream}, time.Now())
	assert.True(t, domain.IsNotFound(err))

	err = repo.MarkError(ctx, "missing", "x", time.Now())
	assert.True(t, domain.IsNotFound(err))
}

func TestJobRepo_FindLatestReadyByFingerprint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newJobRepo(t)
	fp := fingerprint.Of("SELECT * FROM range(10)")

	_, err := repo.FindLatestReadyByFingerprint(ctx, fp)
	require.True(t, domain.IsNotFound(err))

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		job := insertJob(t, repo, "SELECT * FROM range(10)")
		ids = append(ids, job.ID)
		require.NoError(t, repo.MarkReady(ctx, job.ID, domain.ReadyResult{
			CacheKey: fmt.Sprintf("results/%d.json.gz", i), Format: domain.FormatCompressedRows, RowCount: 10, ByteSize: 5,
		}, base.Add(time.Duration(i)*time.Minute)))
	}
	// a newer pending and a newer failed job must not be returned
	insertJob(t, repo, "SELECT * FROM range(10)")
	failed := insertJob(t, repo, "SELECT * FROM range(10)")
	require.NoError(t, repo.MarkError(ctx, failed.ID, "boom", time.Now()))

	latest, err := repo.FindLatestReadyByFingerprint(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID)
	assert.Equal(t, "results/2.json.gz", *latest.CacheKey)
}

func TestJobRepo_QueueStatsAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newJobRepo(t)

	for i := 0; i < 3; i++ {
		insertJob(t, repo, fmt.Sprintf("SELECT %d", i))
	}
	done := insertJob(t, repo, "SELECT 'done'")
	require.NoError(t, repo.MarkReady(ctx, done.ID, domain.ReadyResult{
		CacheKey: "results/x.json.gz", Format: domain.FormatCompressedRows, RowCount: 1, ByteSize: 1,
	}, time.Now()))

	stats, err := repo.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistryStats{PendingCount: 3, ReadyCount: 1, Total: 4}, *stats)

	pending, total, err := repo.List(ctx, domain.JobFilter{Status: domain.JobStatusPending, Page: domain.PageRequest{MaxResults: 2}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, pending, 2)

	all, total, err := repo.List(ctx, domain.JobFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Equal(t, done.ID, all[0].ID, "newest first")
}

func TestJobRepo_ConcurrentMarksSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newJobRepo(t)
	job := insertJob(t, repo, "SELECT 1")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, lost int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = repo.MarkReady(ctx, job.ID, domain.ReadyResult{CacheKey: "k", Format: domain.FormatColumnarStream}, time.Now())
			} else {
				err = repo.MarkError(ctx, job.ID, "x", time.Now())
			}
			mu.Lock()
			defer mu.Unlock()
			var inv *domain.InvalidTransitionError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &inv):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, lost)
}
