// Package materialize executes a query and writes its result to the object
// store in one of two formats chosen by the row count.
package materialize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"duck-flight/internal/domain"
	"duck-flight/internal/objectstore"
)

// DefaultThreshold is the largest row count stored as compressed rows.
const DefaultThreshold = 10000

// Result describes a stored artifact.
type Result struct {
	Key      string
	Format   domain.ResultFormat
	RowCount int64
	ByteSize int64
}

// Ready converts r into the registry form.
func (r Result) Ready() domain.ReadyResult {
	return domain.ReadyResult{CacheKey: r.Key, Format: r.Format, RowCount: r.RowCount, ByteSize: r.ByteSize}
}

// Materializer writes results larger than Threshold rows as an Arrow IPC
// stream and the rest as a gzip-compressed JSON array of row objects.
type Materializer struct {
	engine    domain.QueryEngine
	store     domain.ObjectStore
	keys      objectstore.Keys
	threshold int64
	alloc     memory.Allocator
	logger    *slog.Logger
	sink      domain.MetricsSink
}

// Options configures a Materializer. Zero values take defaults.
type Options struct {
	Keys      objectstore.Keys
	Threshold int64
	Logger    *slog.Logger
	Sink      domain.MetricsSink
}

// New returns a Materializer over engine and store.
func New(engine domain.QueryEngine, store domain.ObjectStore, opts Options) *Materializer {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = domain.NopSink{}
	}
	return &Materializer{
		engine:    engine,
		store:     store,
		keys:      opts.Keys,
		threshold: opts.Threshold,
		alloc:     memory.NewGoAllocator(),
		logger:    opts.Logger.With("component", "materializer"),
		sink:      opts.Sink,
	}
}

// Threshold returns the configured row threshold.
func (m *Materializer) Threshold() int64 { return m.threshold }

// Materialize runs sqlQuery and stores its result under the key derived from
// fingerprint. Engine failures are returned as *domain.ExecutionError and
// upload failures as *domain.StoreWriteError.
func (m *Materializer) Materialize(ctx context.Context, sqlQuery, fingerprint string) (Result, error) {
	stream, err := m.engine.Execute(ctx, sqlQuery)
	if err != nil {
		return Result{}, &domain.ExecutionError{Err: err}
	}
	defer stream.Close() //nolint:errcheck

	var (
		buffered []arrow.Record
		rows     int64
	)
	release := func() {
		for _, r := range buffered {
			r.Release()
		}
		buffered = nil
	}

	for {
		rec, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			release()
			return Result{}, &domain.ExecutionError{Err: err}
		}
		buffered = append(buffered, rec)
		rows += rec.NumRows()
		if rows > m.threshold {
			key := m.keys.For(fingerprint, domain.FormatColumnarStream)
			res, err := m.writeColumnar(ctx, key, stream, buffered, rows)
			buffered = nil
			if err != nil {
				return Result{}, err
			}
			m.record(res)
			return res, nil
		}
	}

	key := m.keys.For(fingerprint, domain.FormatCompressedRows)
	res, err := m.writeRows(ctx, key, stream.Schema(), buffered, rows)
	release()
	if err != nil {
		return Result{}, err
	}
	m.record(res)
	return res, nil
}

func (m *Materializer) record(res Result) {
	m.sink.Record(domain.EventResultBytes, float64(res.ByteSize), map[string]string{"format": string(res.Format)})
	m.logger.Debug("result stored", "key", res.Key, "format", res.Format, "rows", res.RowCount, "bytes", res.ByteSize)
}

// writeColumnar streams the buffered batches and the rest of stream into the
// store through a pipe. The buffered batches are released as they are written.
// Whichever side fails first decides the returned error.
func (m *Materializer) writeColumnar(ctx context.Context, key string, stream domain.RecordStream, buffered []arrow.Record, rows int64) (Result, error) {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	var (
		size  int64
		cause error
		once  sync.Once
	)
	setCause := func(err error) { once.Do(func() { cause = err }) }

	g.Go(func() error {
		n, err := m.store.PutStream(gctx, key, pr, domain.FormatColumnarStream.ContentType())
		if err != nil {
			setCause(asStoreWriteErr(key, err))
			_ = pr.CloseWithError(err)
			return err
		}
		size = n
		return nil
	})

	g.Go(func() error {
		w := ipc.NewWriter(pw, ipc.WithSchema(stream.Schema()), ipc.WithAllocator(m.alloc))
		fail := func(err error) error {
			_ = pw.CloseWithError(err)
			return err
		}

		for i, rec := range buffered {
			err := w.Write(rec)
			rec.Release()
			if err != nil {
				for _, r := range buffered[i+1:] {
					r.Release()
				}
				return fail(err)
			}
		}
		for {
			rec, err := stream.Next(gctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				setCause(&domain.ExecutionError{Err: err})
				return fail(err)
			}
			rows += rec.NumRows()
			err = w.Write(rec)
			rec.Release()
			if err != nil {
				return fail(err)
			}
		}
		if err := w.Close(); err != nil {
			return fail(err)
		}
		return pw.Close()
	})

	if err := g.Wait(); err != nil {
		if cause != nil {
			return Result{}, cause
		}
		return Result{}, asStoreWriteErr(key, err)
	}
	return Result{Key: key, Format: domain.FormatColumnarStream, RowCount: rows, ByteSize: size}, nil
}

func (m *Materializer) writeRows(ctx context.Context, key string, schema *arrow.Schema, recs []arrow.Record, rows int64) (Result, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := encodeRows(zw, schema, recs); err != nil {
		return Result{}, fmt.Errorf("encode rows: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("compress rows: %w", err)
	}

	n, err := m.store.PutStream(ctx, key, &buf, domain.FormatCompressedRows.ContentType())
	if err != nil {
		return Result{}, asStoreWriteErr(key, err)
	}
	return Result{Key: key, Format: domain.FormatCompressedRows, RowCount: rows, ByteSize: n}, nil
}

func asStoreWriteErr(key string, err error) error {
	var swe *domain.StoreWriteError
	if errors.As(err, &swe) {
		return swe
	}
	return &domain.StoreWriteError{Key: key, Err: err}
}
