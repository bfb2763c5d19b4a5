package materialize

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/gzip"
)

// Column names a result column and its Arrow type.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Columns lists the fields of schema in order.
func Columns(schema *arrow.Schema) []Column {
	if schema == nil {
		return nil
	}
	out := make([]Column, schema.NumFields())
	for i, f := range schema.Fields() {
		out[i] = Column{Name: f.Name, Type: f.Type.String()}
	}
	return out
}

// encodeRows writes recs as a JSON array of objects whose keys follow the
// column order of schema.
func encodeRows(w io.Writer, schema *arrow.Schema, recs []arrow.Record) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte('['); err != nil {
		return err
	}
	names, err := encodedNames(schema)
	if err != nil {
		return err
	}
	first := true
	var row bytes.Buffer
	for _, rec := range recs {
		for i := 0; i < int(rec.NumRows()); i++ {
			row.Reset()
			if err := encodeRow(&row, names, rec, i); err != nil {
				return err
			}
			if !first {
				if err := bw.WriteByte(','); err != nil {
					return err
				}
			}
			first = false
			if _, err := bw.Write(row.Bytes()); err != nil {
				return err
			}
		}
	}
	if err := bw.WriteByte(']'); err != nil {
		return err
	}
	return bw.Flush()
}

func encodedNames(schema *arrow.Schema) ([][]byte, error) {
	names := make([][]byte, schema.NumFields())
	for i, f := range schema.Fields() {
		b, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		names[i] = b
	}
	return names, nil
}

func encodeRow(buf *bytes.Buffer, names [][]byte, rec arrow.Record, i int) error {
	buf.WriteByte('{')
	for c := 0; c < int(rec.NumCols()); c++ {
		if c > 0 {
			buf.WriteByte(',')
		}
		buf.Write(names[c])
		buf.WriteByte(':')
		v, err := json.Marshal(rec.Column(c).GetOneForMarshal(i))
		if err != nil {
			return fmt.Errorf("marshal column %d: %w", c, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return nil
}

// ReadColumnarSchema reads only the schema message of an Arrow IPC stream.
func ReadColumnarSchema(r io.Reader) (*arrow.Schema, error) {
	rdr, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()
	return rdr.Schema(), nil
}

// DecodeColumnar reads a whole Arrow IPC stream. The caller releases the
// returned records.
func DecodeColumnar(r io.Reader) (*arrow.Schema, []arrow.Record, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()

	var recs []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return rdr.Schema(), recs, nil
}

// DecodeRows gunzips and parses a compressed-rows artifact. Numbers are kept
// as json.Number.
func DecodeRows(r io.Reader) ([]map[string]any, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close() //nolint:errcheck

	dec := json.NewDecoder(zr)
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}
