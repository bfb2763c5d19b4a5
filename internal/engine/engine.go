// Package engine runs SQL on an embedded DuckDB database and yields the
// results as Arrow record batches.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/memory"
	_ "github.com/duckdb/duckdb-go/v2" // registers the duckdb driver

	"duck-flight/internal/ddl"
	"duck-flight/internal/domain"
)

// DefaultBatchSize is the number of rows per record batch when none is set.
const DefaultBatchSize = 1000

// Config configures the embedded database.
type Config struct {
	Path        string // empty for an in-memory database
	MemoryLimit string
	Threads     int
	BatchSize   int
	S3Secret    *ddl.S3Secret // loads httpfs and installs the secret when set
}

var _ domain.QueryEngine = (*DuckDB)(nil)

// DuckDB implements domain.QueryEngine. It is safe for concurrent use; each
// Execute holds one pooled connection until its stream is closed.
type DuckDB struct {
	db        *sql.DB
	batchSize int
	alloc     memory.Allocator
	logger    *slog.Logger
}

// Open opens the database at cfg.Path and applies the session settings.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DuckDB, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if err := Configure(ctx, db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	e := New(db, cfg.BatchSize, logger)
	e.logger.Info("duckdb ready", "path", displayPath(cfg.Path), "batch_size", e.batchSize, "httpfs", cfg.S3Secret != nil)
	return e, nil
}

// New wraps an open DuckDB handle.
func New(db *sql.DB, batchSize int, logger *slog.Logger) *DuckDB {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DuckDB{
		db:        db,
		batchSize: batchSize,
		alloc:     memory.NewGoAllocator(),
		logger:    logger.With("component", "engine"),
	}
}

// Configure runs the settings, extension and secret statements for cfg.
func Configure(ctx context.Context, db *sql.DB, cfg Config) error {
	var stmts []string
	if cfg.MemoryLimit != "" {
		s, err := ddl.SetMemoryLimit(cfg.MemoryLimit)
		if err != nil {
			return err
		}
		stmts = append(stmts, s)
	}
	if cfg.Threads > 0 {
		s, err := ddl.SetThreads(cfg.Threads)
		if err != nil {
			return err
		}
		stmts = append(stmts, s)
	}
	if cfg.S3Secret != nil {
		s, err := ddl.LoadExtension("httpfs")
		if err != nil {
			return err
		}
		secret, err := ddl.CreateS3Secret(*cfg.S3Secret)
		if err != nil {
			return fmt.Errorf("build s3 secret: %w", err)
		}
		stmts = append(stmts, s, secret)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("configure duckdb: %w", err)
		}
	}
	return nil
}

// Execute starts sqlQuery and returns a stream over its batches. The caller
// must Close the stream.
func (e *DuckDB) Execute(ctx context.Context, sqlQuery string) (domain.RecordStream, error) {
	rows, err := e.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	stream, err := newRowStream(rows, e.alloc, e.batchSize)
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return stream, nil
}

// Ping checks that the database is reachable.
func (e *DuckDB) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// DB returns the underlying handle.
func (e *DuckDB) DB() *sql.DB { return e.db }

// Close closes the database.
func (e *DuckDB) Close() error { return e.db.Close() }

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}
