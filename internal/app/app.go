// Package app wires the query cache service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"duck-flight/internal/api"
	"duck-flight/internal/cache"
	"duck-flight/internal/config"
	"duck-flight/internal/db"
	"duck-flight/internal/db/postgres"
	"duck-flight/internal/db/repository"
	"duck-flight/internal/ddl"
	"duck-flight/internal/domain"
	"duck-flight/internal/engine"
	"duck-flight/internal/materialize"
	"duck-flight/internal/metrics"
	"duck-flight/internal/middleware"
	"duck-flight/internal/objectstore"
	"duck-flight/internal/scheduler"
	"duck-flight/internal/service/discovery"
	"duck-flight/internal/service/query"
)

// Deps holds what main must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// App is the fully wired service.
type App struct {
	Handler   http.Handler
	Query     *query.Service
	Discovery *discovery.Service // nil when discovery is disabled
	Metrics   *metrics.Prometheus

	cfg       *config.Config
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	closers   []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New opens every backing service and builds the HTTP handler. On error,
// whatever was already opened is closed.
func New(ctx context.Context, deps Deps) (_ *App, err error) {
	cfg, logger := deps.Cfg, deps.Logger
	a := &App{cfg: cfg, logger: logger, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.closeAll()
		}
	}()

	jobs, files, err := a.openRegistry(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("status cache: %w", err)
		}
		a.onClose("redis", rc.Close)
		if perr := rc.Ping(ctx); perr != nil {
			logger.Warn("status cache unreachable, falling back to registry reads", "error", perr)
		}
		jobs = cache.NewJobRegistry(jobs, rc, cfg.StatusCacheTTL, logger)
		logger.Info("status cache enabled", "ttl", cfg.StatusCacheTTL)
	}

	store, err := objectstore.Open(ctx, storeConfig(cfg, cfg.S3Bucket))
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	logger.Info("object store ready", "backend", cfg.StoreBackend, "bucket", cfg.S3Bucket, "prefix", cfg.StorePrefix)

	eng, err := engine.Open(ctx, engineConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	a.onClose("duckdb", eng.Close)

	sched, err := scheduler.New(scheduler.Config{MaxWorkers: cfg.MaxWorkers, QueueSize: cfg.QueueSize}, logger, a.Metrics)
	if err != nil {
		return nil, err
	}
	a.scheduler = sched
	// A no-op once Shutdown has drained the scheduler.
	a.onClose("scheduler", func() error { return sched.Shutdown(context.Background()) })

	mat := materialize.New(eng, store, materialize.Options{
		Keys:      objectstore.Keys{Prefix: cfg.StorePrefix},
		Threshold: cfg.RowThreshold,
		Logger:    logger,
		Sink:      a.Metrics,
	})
	a.Query = query.NewService(query.Deps{
		Registry:     jobs,
		Store:        store,
		Engine:       eng,
		Materializer: mat,
		Executor:     sched,
		Logger:       logger,
		Sink:         a.Metrics,
	}, query.Config{
		InlineEnabled: cfg.InlineEnabled,
		InlineMaxRows: cfg.InlineMaxRows,
		InlineTimeout: cfg.InlineTimeout,
	})

	var fileSvc api.FileService
	if cfg.DiscoveryEnabled {
		dstore := store
		if cfg.StoreBackend != objectstore.BackendMemory && cfg.DiscoveryBucket != cfg.S3Bucket {
			if dstore, err = objectstore.Open(ctx, storeConfig(cfg, cfg.DiscoveryBucket)); err != nil {
				return nil, fmt.Errorf("discovery store: %w", err)
			}
		}
		a.Discovery = discovery.NewService(dstore, files, cfg.DiscoveryPrefix, logger, a.Metrics)
		fileSvc = a.Discovery
	}

	h := api.NewHandler(a.Query, fileSvc, logger)
	a.Handler = api.NewRouter(h, api.RouterOptions{
		Logger:      logger,
		Metrics:     a.Metrics,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
	})
	return a, nil
}

func (a *App) openRegistry(ctx context.Context) (domain.JobRegistry, domain.FileRegistry, error) {
	switch a.cfg.RegistryDriver {
	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{DSN: a.cfg.RegistryDSN, MaxConns: int32(a.cfg.MaxWorkers) + 4}) //nolint:gosec // worker counts are small
		if err != nil {
			return nil, nil, fmt.Errorf("registry: %w", err)
		}
		a.onClose("postgres", func() error { pool.Close(); return nil })
		a.logger.Info("job registry ready", "driver", "postgres")
		return postgres.NewJobRepo(pool), postgres.NewFileRepo(pool), nil
	default:
		pair, err := db.OpenSQLitePair(a.cfg.RegistryPath, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("registry: %w", err)
		}
		a.onClose("sqlite", pair.Close)
		if err := db.RunMigrations(pair.Write); err != nil {
			return nil, nil, fmt.Errorf("registry migrations: %w", err)
		}
		a.logger.Info("job registry ready", "driver", "sqlite", "path", a.cfg.RegistryPath)
		return repository.NewJobRepo(pair.Write, pair.Read), repository.NewFileRepo(pair.Write, pair.Read), nil
	}
}

func storeConfig(cfg *config.Config, bucket string) objectstore.Config {
	return objectstore.Config{
		Backend:            cfg.StoreBackend,
		Bucket:             bucket,
		Endpoint:           cfg.S3Endpoint,
		Region:             cfg.S3Region,
		AccessKey:          cfg.S3AccessKey,
		SecretKey:          cfg.S3SecretKey,
		UseSSL:             cfg.S3UseSSL,
		PathStyle:          cfg.StoreBackend == objectstore.BackendS3 && cfg.S3Endpoint != "",
		PartSize:           cfg.PartSize(),
		GCSCredentialsFile: cfg.GCSCredentialsFile,
		AzureAccountName:   cfg.AzureAccountName,
		AzureAccountKey:    cfg.AzureAccountKey,
		FilesystemRoot:     cfg.FSRoot,
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.Config{
		Path:        cfg.DuckDBPath,
		MemoryLimit: cfg.DuckDBMemoryLimit,
		Threads:     cfg.DuckDBThreads,
		BatchSize:   cfg.BatchSize,
	}
	if cfg.DuckDBHTTPFS {
		ec.S3Secret = &ddl.S3Secret{
			Name:     "flight_s3",
			KeyID:    cfg.S3AccessKey,
			Secret:   cfg.S3SecretKey,
			Endpoint: cfg.S3Endpoint,
			Region:   cfg.S3Region,
			URLStyle: "path",
			UseSSL:   cfg.S3UseSSL || strings.HasPrefix(cfg.S3Endpoint, "https://"),
		}
	}
	return ec
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Start launches background work that is not driven by requests.
func (a *App) Start(ctx context.Context) error {
	if a.Discovery == nil {
		return nil
	}
	return a.Discovery.Start(ctx, a.cfg.DiscoverySchedule)
}

// Shutdown drains the scheduler, stops discovery, then closes the stores.
// Jobs still queued when ctx expires stay pending in the registry.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(ctx); err != nil {
			a.logger.Warn("scheduler did not drain", "error", err)
			errs = append(errs, err)
		}
	}
	if a.Discovery != nil {
		a.Discovery.Stop(ctx)
	}
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
