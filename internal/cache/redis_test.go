//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *RedisCache {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := NewRedisCache("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestRedisCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rc := setupRedis(t)

	require.NoError(t, rc.Ping(ctx))

	_, ok, err := rc.Get(ctx, JobKey("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rc.Set(ctx, JobKey("a"), []byte(`{"id":"a"}`), time.Minute))
	val, ok, err := rc.Get(ctx, JobKey("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"a"}`, string(val))

	require.NoError(t, rc.Delete(ctx, JobKey("a")))
	_, ok, err = rc.Get(ctx, JobKey("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}
