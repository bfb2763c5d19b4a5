package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/gzip"
)

// DownloadInfo describes a downloaded artifact.
type DownloadInfo struct {
	Format          string
	ContentType     string
	ContentEncoding string
	Bytes           int64
}

// Download copies the stored artifact of jobID to w byte for byte. A
// compressed-rows artifact stays gzip-compressed.
func (c *Client) Download(ctx context.Context, jobID string, w io.Writer) (*DownloadInfo, error) {
	u := c.BaseURL + "/query/" + url.PathEscape(jobID) + "/result"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// An explicit Accept-Encoding stops the transport from gunzipping.
	req.Header.Set("Accept-Encoding", "gzip")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	// Artifacts can be large; rely on ctx instead of the request timeout.
	hc := *c.HTTPClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", jobID, err)
	}
	if err := checkError(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("copy artifact: %w", err)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if want, perr := strconv.ParseInt(cl, 10, 64); perr == nil && want != n {
			return nil, fmt.Errorf("short download: got %d of %d bytes", n, want)
		}
	}
	return &DownloadInfo{
		Format:          resp.Header.Get("X-Result-Format"),
		ContentType:     resp.Header.Get("Content-Type"),
		ContentEncoding: resp.Header.Get("Content-Encoding"),
		Bytes:           n,
	}, nil
}

// ReadArrow decodes a columnar-stream artifact and calls fn for every record.
// Records are released after fn returns.
func ReadArrow(r io.Reader, fn func(schema *arrow.Schema, rec arrow.Record) error) (int64, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return 0, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()

	var rows int64
	for rdr.Next() {
		rec := rdr.Record()
		rows += rec.NumRows()
		if fn != nil {
			if err := fn(rdr.Schema(), rec); err != nil {
				return rows, err
			}
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return rows, fmt.Errorf("read arrow stream: %w", err)
	}
	return rows, nil
}

// ReadRows decodes a compressed-rows artifact. Numbers are kept as
// json.Number.
func ReadRows(r io.Reader) ([]map[string]any, error) {
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
