package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FLIGHT_CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.ListenAddr())
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.EqualValues(t, 10000, cfg.RowThreshold)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.True(t, cfg.InlineEnabled)
	assert.EqualValues(t, 1000, cfg.InlineMaxRows)
	assert.Equal(t, 2*time.Second, cfg.InlineTimeout)
	assert.Equal(t, "sqlite", cfg.RegistryDriver)
	assert.Equal(t, "job_registry.db", cfg.RegistryPath)
	assert.Equal(t, "minio", cfg.StoreBackend)
	assert.Equal(t, "results", cfg.StorePrefix)
	assert.EqualValues(t, 8<<20, cfg.PartSize())
	assert.Equal(t, "flight-cache", cfg.S3Bucket)
	assert.Equal(t, 24*time.Hour, cfg.StatusCacheTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.DiscoveryEnabled)
	assert.Equal(t, "@every 5m", cfg.DiscoverySchedule)

	assert.Contains(t, cfg.Warnings[0], "minioadmin")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FLIGHT_APP_PORT", "9001")
	t.Setenv("FLIGHT_MAX_WORKERS", "8")
	t.Setenv("FLIGHT_QUERY_ROW_THRESHOLD", "500")
	t.Setenv("FLIGHT_INLINE_ENABLED", "false")
	t.Setenv("FLIGHT_INLINE_TIMEOUT", "1.5")
	t.Setenv("FLIGHT_STATUS_CACHE_TTL", "10m")
	t.Setenv("FLIGHT_STORE_BACKEND", "filesystem")
	t.Setenv("FLIGHT_FS_ROOT", "/tmp/flight")
	t.Setenv("FLIGHT_CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("FLIGHT_RATE_LIMIT_RPS", "12.5")
	t.Setenv("FLIGHT_DUCKDB_HTTPFS", "yes")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.AppPort)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.EqualValues(t, 500, cfg.RowThreshold)
	assert.False(t, cfg.InlineEnabled)
	assert.Equal(t, 1500*time.Millisecond, cfg.InlineTimeout)
	assert.Equal(t, 10*time.Minute, cfg.StatusCacheTTL)
	assert.Equal(t, "filesystem", cfg.StoreBackend)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.InDelta(t, 12.5, cfg.RateLimitRPS, 0.0001)
	assert.True(t, cfg.DuckDBHTTPFS)
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := map[string]string{
		"FLIGHT_MAX_WORKERS":    "many",
		"FLIGHT_INLINE_ENABLED": "maybe",
		"FLIGHT_INLINE_TIMEOUT": "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_port: 7000
max_workers: 2
inline_timeout: 750ms
store_backend: memory
cors_origins: [https://x.example.com]
discovery_enabled: true
`), 0o600))
	t.Setenv("FLIGHT_MAX_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.AppPort)
	assert.Equal(t, 3, cfg.MaxWorkers, "environment wins over the file")
	assert.Equal(t, 750*time.Millisecond, cfg.InlineTimeout)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, []string{"https://x.example.com"}, cfg.CORSOrigins)
	assert.True(t, cfg.DiscoveryEnabled)
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_workers: [1"), 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.MaxWorkers = 0 }, "max workers"},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, "queue size"},
		{"negative threshold", func(c *Config) { c.RowThreshold = -1 }, "row threshold"},
		{"tiny parts", func(c *Config) { c.StorePartSizeMB = 1 }, "part size"},
		{"postgres without dsn", func(c *Config) { c.RegistryDriver = "postgres" }, "FLIGHT_REGISTRY_DSN"},
		{"unknown driver", func(c *Config) { c.RegistryDriver = "oracle" }, "registry driver"},
		{"filesystem without root", func(c *Config) { c.StoreBackend = "filesystem" }, "FLIGHT_FS_ROOT"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "tape" }, "store backend"},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	require.NoError(t, Default().Validate())
}

func TestDev(t *testing.T) {
	cfg := Default()
	cfg.RedisURL = "redis://localhost:6379"
	cfg.Dev()
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Empty(t, cfg.RedisURL)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"} {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel().String(), in)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FLIGHT_TEST_DOTENV_A=from-file\nFLIGHT_TEST_DOTENV_B=\"quoted\"\n# comment\n"), 0o600))
	t.Setenv("FLIGHT_TEST_DOTENV_A", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("FLIGHT_TEST_DOTENV_B") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("FLIGHT_TEST_DOTENV_A"))
	assert.Equal(t, "quoted", os.Getenv("FLIGHT_TEST_DOTENV_B"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
