package query

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"duck-flight/internal/domain"
	"duck-flight/internal/fingerprint"
	"duck-flight/internal/materialize"
)

// Schema source values.
const (
	SourceCache  = "cache"
	SourceEngine = "engine"
)

// SchemaResult lists the columns a query produces.
type SchemaResult struct {
	Fingerprint string               `json:"fingerprint"`
	Columns     []materialize.Column `json:"columns"`
	Source      string               `json:"source"`
}

// Schema returns the result schema of sqlQuery. A cached columnar artifact is
// read first; otherwise the engine is asked without reading any rows.
func (s *Service) Schema(ctx context.Context, sqlQuery string) (*SchemaResult, error) {
	sqlText := strings.TrimSpace(sqlQuery)
	if sqlText == "" {
		return nil, domain.ErrValidation("sql query is required")
	}
	fp := fingerprint.Of(sqlText)

	_, res, ok, err := s.lookupReady(ctx, fp)
	if err != nil {
		return nil, err
	}
	schema, source, err := s.schemaFor(ctx, sqlText, res, ok)
	if err != nil {
		return nil, err
	}
	return &SchemaResult{Fingerprint: fp, Columns: materialize.Columns(schema), Source: source}, nil
}

func (s *Service) schemaFor(ctx context.Context, sqlText string, res domain.ReadyResult, cached bool) (*arrow.Schema, string, error) {
	if cached && res.Format == domain.FormatColumnarStream {
		schema, err := s.artifactSchema(ctx, res.CacheKey)
		if err == nil {
			return schema, SourceCache, nil
		}
		s.logger.Warn("read cached schema failed, probing engine", "key", res.CacheKey, "error", err)
	}
	schema, err := s.probeSchema(ctx, sqlText)
	if err != nil {
		return nil, "", err
	}
	return schema, SourceEngine, nil
}

func (s *Service) artifactSchema(ctx context.Context, key string) (*arrow.Schema, error) {
	rc, err := s.store.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return materialize.ReadColumnarSchema(rc)
}

func (s *Service) probeSchema(ctx context.Context, sqlText string) (*arrow.Schema, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)

	stream, err := s.engine.Execute(ctx, sqlText)
	if err != nil {
		return nil, &domain.ExecutionError{Err: err}
	}
	schema := stream.Schema()
	if err := stream.Close(); err != nil {
		s.logger.Debug("close schema probe", "error", err)
	}
	return schema, nil
}

// Metadata describes a query result and its cache state. NumRows, FileSize
// and LastModified are only known for cached results.
type Metadata struct {
	Fingerprint  string               `json:"fingerprint"`
	Columns      []materialize.Column `json:"schema"`
	NumColumns   int                  `json:"num_columns"`
	Cached       bool                 `json:"cached"`
	Key          *string              `json:"key"`
	Format       *domain.ResultFormat `json:"format"`
	NumRows      *int64               `json:"num_rows"`
	FileSize     *int64               `json:"file_size"`
	LastModified *time.Time           `json:"last_modified"`
	JobID        *string              `json:"job_id"`
}

// Metadata returns the schema and cache state of sqlQuery.
func (s *Service) Metadata(ctx context.Context, sqlQuery string) (*Metadata, error) {
	sqlText := strings.TrimSpace(sqlQuery)
	if sqlText == "" {
		return nil, domain.ErrValidation("sql query is required")
	}
	fp := fingerprint.Of(sqlText)

	job, res, ok, err := s.lookupReady(ctx, fp)
	if err != nil {
		return nil, err
	}
	schema, _, err := s.schemaFor(ctx, sqlText, res, ok)
	if err != nil {
		return nil, err
	}

	md := &Metadata{Fingerprint: fp, Columns: materialize.Columns(schema), NumColumns: schema.NumFields()}
	if !ok {
		return md, nil
	}
	md.Cached = true
	md.Key = &res.CacheKey
	md.Format = &res.Format
	md.NumRows = &res.RowCount
	md.JobID = &job.ID
	if info, err := s.store.Head(ctx, res.CacheKey); err == nil {
		md.FileSize = &info.Size
		lm := info.LastModified.UTC()
		md.LastModified = &lm
	} else {
		md.FileSize = &res.ByteSize
		s.logger.Warn("head cached object failed", "key", res.CacheKey, "error", err)
	}
	return md, nil
}

// Download is an open result stream. The caller must Close Body.
type Download struct {
	JobID           string
	Key             string
	Format          domain.ResultFormat
	ContentType     string
	ContentEncoding string
	Size            int64
	Body            io.ReadCloser
}

// Download opens the stored result of jobID.
func (s *Service) Download(ctx context.Context, jobID string) (*Download, error) {
	job, err := s.registry.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.JobStatusPending:
		return nil, &domain.NotReadyError{JobID: jobID}
	case domain.JobStatusError:
		detail := ""
		if job.ErrorDetail != nil {
			detail = *job.ErrorDetail
		}
		return nil, &domain.JobFailedError{JobID: jobID, Detail: detail}
	}

	res, ok := job.ResultOf()
	if !ok {
		return nil, fmt.Errorf("job %q is ready without a result", jobID)
	}
	body, err := s.store.GetStream(ctx, res.CacheKey)
	if domain.IsNotFound(err) {
		s.logger.Warn("ready job object missing", "job_id", jobID, "key", res.CacheKey)
		s.sink.Record(domain.EventCacheDrift, 1, nil)
		return nil, &domain.CacheInconsistencyError{Key: res.CacheKey}
	}
	if err != nil {
		return nil, fmt.Errorf("open result: %w", err)
	}

	// A re-execution after drift rewrites the key, so the size recorded on
	// an older job may no longer match the object. Zero means unknown.
	var size int64
	if info, err := s.store.Head(ctx, res.CacheKey); err == nil {
		size = info.Size
	} else {
		s.logger.Warn("head result failed", "job_id", jobID, "key", res.CacheKey, "error", err)
	}

	d := &Download{
		JobID:       jobID,
		Key:         res.CacheKey,
		Format:      res.Format,
		ContentType: res.Format.ContentType(),
		Size:        size,
		Body:        &meteredBody{ReadCloser: body, sink: s.sink, format: string(res.Format)},
	}
	if res.Format == domain.FormatCompressedRows {
		d.ContentEncoding = "gzip"
	}
	return d, nil
}

// meteredBody reports the bytes read through it when closed.
type meteredBody struct {
	io.ReadCloser
	sink   domain.MetricsSink
	format string
	n      int64
	closed bool
}

func (b *meteredBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	return n, err
}

func (b *meteredBody) Close() error {
	if !b.closed {
		b.closed = true
		b.sink.Record(domain.EventBytesStreamed, float64(b.n), map[string]string{"direction": "download", "format": b.format})
	}
	return b.ReadCloser.Close()
}
