package domain

import (
	"context"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// RecordStream is a lazy cursor over the record batches of one query.
// Next returns io.EOF after the last batch. Batches returned by Next are
// owned by the caller and must be released.
type RecordStream interface {
	Schema() *arrow.Schema
	Next(ctx context.Context) (arrow.Record, error)
	Close() error
}

// QueryEngine executes SQL and yields record batches.
// Implemented by engine.DuckDB.
type QueryEngine interface {
	Execute(ctx context.Context, sqlQuery string) (RecordStream, error)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// ObjectStore is a key-addressed blob store with streaming reads and writes.
// A key only becomes visible once PutStream returns successfully.
type ObjectStore interface {
	PutStream(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MetricsSink receives measurements emitted by the core. Implementations must
// not block and must not fail the caller.
type MetricsSink interface {
	Record(event string, value float64, labels map[string]string)
}

// Measurement events emitted by the core.
const (
	EventSubmission     = "query_submission"
	EventQueryDuration  = "query_duration_seconds"
	EventResultBytes    = "result_bytes"
	EventBytesStreamed  = "bytes_streamed"
	EventQueueDepth     = "executor_queue_depth"
	EventActiveWorkers  = "executor_active_workers"
	EventCacheDrift     = "cache_drift"
	EventDiscoveryFiles = "discovery_files"
)

// NopSink discards all measurements.
type NopSink struct{}

// Record implements MetricsSink.
func (NopSink) Record(string, float64, map[string]string) {}
