package discovery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-flight/internal/db"
	"duck-flight/internal/db/repository"
	"duck-flight/internal/domain"
	"duck-flight/internal/objectstore"
	"duck-flight/internal/testutil"
)

func seed(t *testing.T, store *objectstore.MemoryStore, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_, err := store.PutStream(context.Background(), k, strings.NewReader(k), "")
		require.NoError(t, err)
	}
}

func newService(t *testing.T, store domain.ObjectStore, prefix string) (*Service, *testutil.RecordingSink) {
	t.Helper()
	pair := db.OpenTestSQLite(t)
	sink := &testutil.RecordingSink{}
	svc := NewService(store, repository.NewFileRepo(pair.Write, pair.Read), prefix, slog.New(slog.DiscardHandler), sink)
	return svc, sink
}

func TestScan_RegistersAndClassifies(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	seed(t, store, "data/a.parquet", "data/b.csv.gz", "data/c.jsonl", "data/readme.txt", "elsewhere/x.parquet")
	svc, sink := newService(t, store, "data/")

	res, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.FilesSeen)
	assert.Equal(t, 4, res.FilesUpserted)

	again, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, again.FilesSeen)
	assert.Zero(t, again.FilesUpserted)

	count, err := svc.Count(ctx, "parquet")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	types, err := svc.Types(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 4)

	files, total, err := svc.List(ctx, domain.FileFilter{FileType: "csv"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, files, 1)
	assert.Equal(t, "data/b.csv.gz", files[0].Path)

	st := svc.Status()
	require.NotNil(t, st.LastScan)
	assert.False(t, st.Running)
	assert.Equal(t, 4, st.FilesSeen)
	assert.Empty(t, st.LastError)
	assert.Len(t, sink.Events(domain.EventDiscoveryFiles), 2)
}

type failingLister struct {
	*objectstore.MemoryStore
	err error
}

func (f *failingLister) List(context.Context, string) ([]domain.ObjectInfo, error) {
	return nil, f.err
}

func TestScan_RecordsError(t *testing.T) {
	svc, _ := newService(t, &failingLister{MemoryStore: objectstore.NewMemoryStore(), err: errors.New("bucket gone")}, "")

	_, err := svc.Scan(context.Background())
	require.ErrorContains(t, err, "bucket gone")

	st := svc.Status()
	require.NotNil(t, st.LastScan)
	assert.Contains(t, st.LastError, "bucket gone")
}

type blockingLister struct {
	*objectstore.MemoryStore
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingLister) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return b.MemoryStore.List(ctx, prefix)
}

func TestScan_ConcurrentCallersShareOneScan(t *testing.T) {
	store := &blockingLister{MemoryStore: objectstore.NewMemoryStore(), release: make(chan struct{})}
	seed(t, store.MemoryStore, "a.parquet")
	svc, _ := newService(t, store, "")

	var wg sync.WaitGroup
	results := make([]*ScanResult, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Scan(context.Background())
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	require.Eventually(t, func() bool { return svc.Status().Running }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.calls)
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, 1, r.FilesSeen)
	}
}

func TestStartAndStop(t *testing.T) {
	store := objectstore.NewMemoryStore()
	seed(t, store, "a.parquet")
	svc, _ := newService(t, store, "")

	require.Error(t, svc.Start(context.Background(), "not a schedule"))

	require.NoError(t, svc.Start(context.Background(), "@every 1h"))
	require.Eventually(t, func() bool { return svc.Status().LastScan != nil }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "@every 1h", svc.Status().Schedule)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Stop(ctx)
	svc.Stop(ctx)
}
