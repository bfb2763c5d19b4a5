package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-flight/internal/config"
	"duck-flight/internal/domain"
	"duck-flight/internal/objectstore"
)

func devConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Dev()
	cfg.RegistryPath = filepath.Join(t.TempDir(), "registry.db")
	cfg.DiscoveryEnabled = true
	cfg.DiscoverySchedule = "@every 1h"
	return cfg
}

func TestNew_DevStack(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, Deps{Cfg: devConfig(t), Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	require.NotNil(t, a.Discovery)
	require.NoError(t, a.Start(ctx))

	srv := httptest.NewServer(a.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/query", "application/json", strings.NewReader(`{"sql":"SELECT 42 AS answer","inline":true}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/files/discovery/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(sctx))
}

func TestNew_FailureClosesOpenedResources(t *testing.T) {
	cfg := devConfig(t)
	cfg.StoreBackend = "filesystem"
	cfg.FSRoot = ""

	_, err := New(context.Background(), Deps{Cfg: cfg, Logger: slog.New(slog.DiscardHandler)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object store")
}

func TestCloseAll_StopsScheduler(t *testing.T) {
	a, err := New(context.Background(), Deps{Cfg: devConfig(t), Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)

	var names []string
	for _, c := range a.closers {
		names = append(names, c.name)
	}
	assert.Contains(t, names, "scheduler")

	// closeAll is what New runs when a later step fails.
	require.NoError(t, a.closeAll())
	assert.ErrorIs(t, a.scheduler.Submit("late", func(context.Context) {}), domain.ErrSchedulerClosed)
}

func TestStoreConfig(t *testing.T) {
	cfg := config.Default()
	cfg.StoreBackend = objectstore.BackendS3
	sc := storeConfig(cfg, "other-bucket")
	assert.Equal(t, "other-bucket", sc.Bucket)
	assert.True(t, sc.PathStyle)
	assert.EqualValues(t, 8<<20, sc.PartSize)
}

func TestEngineConfig_HTTPFS(t *testing.T) {
	cfg := config.Default()
	assert.Nil(t, engineConfig(cfg).S3Secret)

	cfg.DuckDBHTTPFS = true
	ec := engineConfig(cfg)
	require.NotNil(t, ec.S3Secret)
	assert.Equal(t, "localhost:9000", ec.S3Secret.Endpoint)
	assert.False(t, ec.S3Secret.UseSSL)
}
