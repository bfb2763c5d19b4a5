package engine

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// rowStream converts database/sql rows into record batches of at most
// batchSize rows.
type rowStream struct {
	rows      *sql.Rows
	schema    *arrow.Schema
	builder   *array.RecordBuilder
	batchSize int
	dest      []any
	ptrs      []any
	done      bool
	closed    bool
}

func newRowStream(rows *sql.Rows, alloc memory.Allocator, batchSize int) (*rowStream, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}
	schema := schemaFromColumns(cols)
	s := &rowStream{
		rows:      rows,
		schema:    schema,
		builder:   array.NewRecordBuilder(alloc, schema),
		batchSize: batchSize,
		dest:      make([]any, len(cols)),
		ptrs:      make([]any, len(cols)),
	}
	for i := range s.dest {
		s.ptrs[i] = &s.dest[i]
	}
	return s, nil
}

func (s *rowStream) Schema() *arrow.Schema { return s.schema }

// Next returns the next batch or io.EOF once the rows are exhausted.
func (s *rowStream) Next(ctx context.Context) (arrow.Record, error) {
	if s.done || s.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := 0
	for n < s.batchSize {
		if !s.rows.Next() {
			s.done = true
			if err := s.rows.Err(); err != nil {
				return nil, fmt.Errorf("read rows: %w", err)
			}
			break
		}
		if err := s.rows.Scan(s.ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range s.dest {
			if err := appendValue(s.builder.Field(i), v); err != nil {
				return nil, fmt.Errorf("column %q: %w", s.schema.Field(i).Name, err)
			}
		}
		n++
	}
	if n == 0 {
		return nil, io.EOF
	}
	return s.builder.NewRecord(), nil
}

func (s *rowStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.builder.Release()
	return s.rows.Close()
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		b.Append(x)
	case *array.Int8Builder:
		x, err := asInt64(v)
		if err != nil {
			return err
		}
		b.Append(int8(x))
	case *array.Int16Builder:
		x, err := asInt64(v)
		if err != nil {
			return err
		}
		b.Append(int16(x))
	case *array.Int32Builder:
		x, err := asInt64(v)
		if err != nil {
			return err
		}
		b.Append(int32(x))
	case *array.Int64Builder:
		x, err := asInt64(v)
		if err != nil {
			return err
		}
		b.Append(x)
	case *array.Uint8Builder:
		x, err := asUint64(v)
		if err != nil {
			return err
		}
		b.Append(uint8(x))
	case *array.Uint16Builder:
		x, err := asUint64(v)
		if err != nil {
			return err
		}
		b.Append(uint16(x))
	case *array.Uint32Builder:
		x, err := asUint64(v)
		if err != nil {
			return err
		}
		b.Append(uint32(x))
	case *array.Uint64Builder:
		x, err := asUint64(v)
		if err != nil {
			return err
		}
		b.Append(x)
	case *array.Float32Builder:
		x, err := asFloat64(v)
		if err != nil {
			return err
		}
		b.Append(float32(x))
	case *array.Float64Builder:
		x, err := asFloat64(v)
		if err != nil {
			return err
		}
		b.Append(x)
	case *array.Date32Builder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected time, got %T", v)
		}
		b.Append(arrow.Date32FromTime(t))
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected time, got %T", v)
		}
		b.Append(arrow.Timestamp(t.UnixMicro()))
	case *array.BinaryBuilder:
		switch x := v.(type) {
		case []byte:
			b.Append(x)
		case string:
			b.AppendString(x)
		default:
			return fmt.Errorf("expected bytes, got %T", v)
		}
	case *array.StringBuilder:
		b.Append(asString(v))
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func asUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case uint:
		return uint64(x), nil
	}
	return 0, fmt.Errorf("expected unsigned integer, got %T", v)
}

func asFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, fmt.Errorf("expected float, got %T", v)
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case *big.Int:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
