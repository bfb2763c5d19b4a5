package materialize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"

	"duck-flight/internal/domain"
)

// ErrTooLargeForInline is returned by Inline when the result has more rows
// than allowed.
var ErrTooLargeForInline = errors.New("result exceeds the inline row limit")

// InlineResult is a small result returned directly to the caller.
type InlineResult struct {
	Columns  []Column          `json:"columns"`
	Rows     []json.RawMessage `json:"rows"`
	RowCount int64             `json:"row_count"`
}

// Inline runs sqlQuery and returns its rows when there are at most maxRows.
// It stops reading as soon as the bound is exceeded.
func (m *Materializer) Inline(ctx context.Context, sqlQuery string, maxRows int64) (*InlineResult, error) {
	stream, err := m.engine.Execute(ctx, sqlQuery)
	if err != nil {
		return nil, &domain.ExecutionError{Err: err}
	}
	defer stream.Close() //nolint:errcheck

	schema := stream.Schema()
	names, err := encodedNames(schema)
	if err != nil {
		return nil, err
	}

	res := &InlineResult{Columns: Columns(schema), Rows: []json.RawMessage{}}
	var buf bytes.Buffer
	for {
		rec, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.ExecutionError{Err: err}
		}
		if res.RowCount+rec.NumRows() > maxRows {
			rec.Release()
			return nil, ErrTooLargeForInline
		}
		err = appendRows(&buf, names, rec, res)
		rec.Release()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func appendRows(buf *bytes.Buffer, names [][]byte, rec arrow.Record, res *InlineResult) error {
	for i := 0; i < int(rec.NumRows()); i++ {
		buf.Reset()
		if err := encodeRow(buf, names, rec, i); err != nil {
			return err
		}
		res.Rows = append(res.Rows, json.RawMessage(bytes.Clone(buf.Bytes())))
		res.RowCount++
	}
	return nil
}
