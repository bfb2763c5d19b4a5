// Package config handles application configuration and environment loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the server. Values are resolved in order:
// built-in defaults, the YAML file, then FLIGHT_* environment variables.
type Config struct {
	AppHost   string `yaml:"app_host"`
	AppPort   int    `yaml:"app_port"`
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json or text

	MaxWorkers   int   `yaml:"max_workers"`
	QueueSize    int   `yaml:"queue_size"`
	RowThreshold int64 `yaml:"query_row_threshold"`
	BatchSize    int   `yaml:"batch_size"`

	InlineEnabled bool          `yaml:"inline_enabled"`
	InlineMaxRows int64         `yaml:"inline_max_rows"`
	InlineTimeout time.Duration `yaml:"inline_timeout"`

	DuckDBPath        string `yaml:"duckdb_path"`
	DuckDBMemoryLimit string `yaml:"duckdb_memory_limit"`
	DuckDBThreads     int    `yaml:"duckdb_threads"`
	DuckDBHTTPFS      bool   `yaml:"duckdb_httpfs"`

	RegistryDriver string `yaml:"registry_driver"` // sqlite or postgres
	RegistryPath   string `yaml:"registry_path"`
	RegistryDSN    string `yaml:"registry_dsn"`

	StoreBackend    string `yaml:"store_backend"`
	StorePrefix     string `yaml:"store_prefix"`
	StorePartSizeMB int    `yaml:"store_part_size_mb"`

	S3Bucket    string `yaml:"s3_bucket"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`

	GCSCredentialsFile string `yaml:"gcs_credentials_file"`
	AzureAccountName   string `yaml:"azure_account_name"`
	AzureAccountKey    string `yaml:"azure_account_key"`
	FSRoot             string `yaml:"fs_root"`

	RedisURL       string        `yaml:"redis_url"`
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl"`

	CORSOrigins    []string `yaml:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`

	DiscoveryEnabled  bool   `yaml:"discovery_enabled"`
	DiscoveryBucket   string `yaml:"discovery_bucket"`
	DiscoveryPrefix   string `yaml:"discovery_prefix"`
	DiscoverySchedule string `yaml:"discovery_schedule"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AppHost:           "0.0.0.0",
		AppPort:           8000,
		LogLevel:          "info",
		LogFormat:         "json",
		MaxWorkers:        4,
		QueueSize:         256,
		RowThreshold:      10000,
		BatchSize:         1000,
		InlineEnabled:     true,
		InlineMaxRows:     1000,
		InlineTimeout:     2 * time.Second,
		RegistryDriver:    "sqlite",
		RegistryPath:      "job_registry.db",
		StoreBackend:      "minio",
		StorePrefix:       "results",
		StorePartSizeMB:   8,
		S3Bucket:          "flight-cache",
		S3Endpoint:        "localhost:9000",
		S3Region:          "us-east-1",
		S3AccessKey:       "minioadmin",
		S3SecretKey:       "minioadmin",
		StatusCacheTTL:    24 * time.Hour,
		CORSOrigins:       []string{"*"},
		RateLimitRPS:      50,
		RateLimitBurst:    100,
		DiscoveryBucket:   "test-data",
		DiscoverySchedule: "@every 5m",
		ShutdownTimeout:   30 * time.Second,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("FLIGHT_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.collectWarnings()
	return cfg, nil
}

// LoadFromEnv is Load without a file argument.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// envReader accumulates the first parse error so applyEnv reads linearly.
type envReader struct {
	err error
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (e *envReader) int(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "":
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		e.fail(key, v, errors.New("not a boolean"))
	}
}

// duration accepts Go durations and bare seconds.
func (e *envReader) duration(key string, dst *time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = splitList(v)
	}
}

func (c *Config) applyEnv() error {
	var e envReader
	e.str("FLIGHT_APP_HOST", &c.AppHost)
	e.int("FLIGHT_APP_PORT", &c.AppPort)
	e.str("FLIGHT_LOG_LEVEL", &c.LogLevel)
	e.str("FLIGHT_LOG_FORMAT", &c.LogFormat)

	e.int("FLIGHT_MAX_WORKERS", &c.MaxWorkers)
	e.int("FLIGHT_QUEUE_SIZE", &c.QueueSize)
	e.int64("FLIGHT_QUERY_ROW_THRESHOLD", &c.RowThreshold)
	e.int("FLIGHT_BATCH_SIZE", &c.BatchSize)

	e.bool("FLIGHT_INLINE_ENABLED", &c.InlineEnabled)
	e.int64("FLIGHT_INLINE_MAX_ROWS", &c.InlineMaxRows)
	e.duration("FLIGHT_INLINE_TIMEOUT", &c.InlineTimeout)

	e.str("FLIGHT_DUCKDB_PATH", &c.DuckDBPath)
	e.str("FLIGHT_DUCKDB_MEMORY_LIMIT", &c.DuckDBMemoryLimit)
	e.int("FLIGHT_DUCKDB_THREADS", &c.DuckDBThreads)
	e.bool("FLIGHT_DUCKDB_HTTPFS", &c.DuckDBHTTPFS)

	e.str("FLIGHT_REGISTRY_DRIVER", &c.RegistryDriver)
	e.str("FLIGHT_REGISTRY_PATH", &c.RegistryPath)
	e.str("FLIGHT_REGISTRY_DSN", &c.RegistryDSN)

	e.str("FLIGHT_STORE_BACKEND", &c.StoreBackend)
	e.str("FLIGHT_STORE_PREFIX", &c.StorePrefix)
	e.int("FLIGHT_STORE_PART_SIZE_MB", &c.StorePartSizeMB)

	e.str("FLIGHT_S3_BUCKET", &c.S3Bucket)
	e.str("FLIGHT_S3_ENDPOINT", &c.S3Endpoint)
	e.str("FLIGHT_S3_REGION", &c.S3Region)
	e.str("FLIGHT_S3_ACCESS_KEY", &c.S3AccessKey)
	e.str("FLIGHT_S3_SECRET_KEY", &c.S3SecretKey)
	e.bool("FLIGHT_S3_USE_SSL", &c.S3UseSSL)

	e.str("FLIGHT_GCS_CREDENTIALS_FILE", &c.GCSCredentialsFile)
	e.str("FLIGHT_AZURE_ACCOUNT_NAME", &c.AzureAccountName)
	e.str("FLIGHT_AZURE_ACCOUNT_KEY", &c.AzureAccountKey)
	e.str("FLIGHT_FS_ROOT", &c.FSRoot)

	e.str("FLIGHT_REDIS_URL", &c.RedisURL)
	e.duration("FLIGHT_STATUS_CACHE_TTL", &c.StatusCacheTTL)

	e.list("FLIGHT_CORS_ORIGINS", &c.CORSOrigins)
	e.float("FLIGHT_RATE_LIMIT_RPS", &c.RateLimitRPS)
	e.int("FLIGHT_RATE_LIMIT_BURST", &c.RateLimitBurst)

	e.bool("FLIGHT_DISCOVERY_ENABLED", &c.DiscoveryEnabled)
	e.str("FLIGHT_DISCOVERY_BUCKET", &c.DiscoveryBucket)
	e.str("FLIGHT_DISCOVERY_PREFIX", &c.DiscoveryPrefix)
	e.str("FLIGHT_DISCOVERY_SCHEDULE", &c.DiscoverySchedule)

	e.duration("FLIGHT_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	return e.err
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.AppPort < 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("app port %d out of range", c.AppPort))
	}
	if c.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("max workers must be at least 1, got %d", c.MaxWorkers))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize))
	}
	if c.RowThreshold < 0 {
		errs = append(errs, fmt.Errorf("row threshold must not be negative, got %d", c.RowThreshold))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.InlineMaxRows < 0 || c.InlineTimeout < 0 {
		errs = append(errs, errors.New("inline limits must not be negative"))
	}
	if c.StorePartSizeMB < 5 {
		errs = append(errs, fmt.Errorf("store part size must be at least 5 MB, got %d", c.StorePartSizeMB))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	switch c.RegistryDriver {
	case "sqlite":
		if c.RegistryPath == "" {
			errs = append(errs, errors.New("registry path is required for sqlite"))
		}
	case "postgres":
		if c.RegistryDSN == "" {
			errs = append(errs, errors.New("FLIGHT_REGISTRY_DSN is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry driver %q", c.RegistryDriver))
	}
	switch c.StoreBackend {
	case "s3", "minio", "gcs", "azure", "memory":
	case "filesystem":
		if c.FSRoot == "" {
			errs = append(errs, errors.New("FLIGHT_FS_ROOT is required for the filesystem store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	return errors.Join(errs...)
}

func (c *Config) collectWarnings() {
	if (c.StoreBackend == "minio" || c.StoreBackend == "s3") && c.S3AccessKey == "minioadmin" && c.S3SecretKey == "minioadmin" {
		c.Warnings = append(c.Warnings, "object store uses the default minioadmin credentials; set FLIGHT_S3_ACCESS_KEY and FLIGHT_S3_SECRET_KEY")
	}
	if len(c.CORSOrigins) == 1 && c.CORSOrigins[0] == "*" {
		c.Warnings = append(c.Warnings, "CORS allows any origin; set FLIGHT_CORS_ORIGINS to restrict it")
	}
	if c.StoreBackend == "memory" {
		c.Warnings = append(c.Warnings, "memory object store is not durable; cached results are lost on restart")
	}
	if c.RateLimitRPS <= 0 {
		c.Warnings = append(c.Warnings, "rate limiting is disabled")
	}
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return c.AppHost + ":" + strconv.Itoa(c.AppPort)
}

// PartSize returns the multipart chunk size in bytes.
func (c *Config) PartSize() int64 {
	return int64(c.StorePartSizeMB) << 20
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Dev switches to settings that need no external services.
func (c *Config) Dev() {
	c.StoreBackend = "memory"
	c.RegistryDriver = "sqlite"
	c.RedisURL = ""
	c.LogFormat = "text"
	c.Warnings = append(c.Warnings, "development mode: memory object store, no status cache")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
