// Package client is a typed HTTP client for the duck-flight query service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one duck-flight server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// NewClient returns a Client for baseURL with a 30 second request timeout.
// Downloads use a separate client without a timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		UserAgent:  "flightctl",
	}
}

// APIError is a non-2xx response.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	JobID      string `json:"job_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.HTTPStatus)
	}
	return fmt.Sprintf("HTTP %d: %s", e.HTTPStatus, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatus == status
}

// Do sends a request with an optional JSON body. The caller closes the
// response body. Non-2xx responses are returned as *APIError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	return c.do(ctx, c.HTTPClient, method, path, query, body)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if err := checkError(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// checkError turns a non-2xx response into *APIError and closes its body.
func checkError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{HTTPStatus: resp.StatusCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	apiErr.HTTPStatus = resp.StatusCode
	return apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := c.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decodeBody(resp, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	resp, err := c.Do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	return decodeBody(resp, out)
}

func decodeBody(resp *http.Response, out interface{}) error {
	defer resp.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	if err := c.getJSON(ctx, "/health", nil, &out); err != nil {
		return err
	}
	if out["status"] != "ok" {
		return fmt.Errorf("server reports status %q", out["status"])
	}
	return nil
}

// Submit sends a query. Rows come back inline only when inline points to true.
func (c *Client) Submit(ctx context.Context, sql string, inline *bool) (*SubmitResponse, error) {
	var out SubmitResponse
	body := map[string]interface{}{"sql": sql}
	if inline != nil {
		body["inline"] = *inline
	}
	if err := c.postJSON(ctx, "/query", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the job record.
func (c *Client) Status(ctx context.Context, jobID string) (*Job, error) {
	var out Job
	if err := c.getJSON(ctx, "/query/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JobFailedError is returned by WaitForQuery when the job ends in error.
type JobFailedError struct {
	Job *Job
}

func (e *JobFailedError) Error() string {
	detail := ""
	if e.Job.Error != nil {
		detail = *e.Job.Error
	}
	return fmt.Sprintf("job %s failed: %s", e.Job.JobID, detail)
}

// WaitForQuery polls the job every interval until it leaves pending or ctx
// ends. A failed job returns *JobFailedError.
func (c *Client) WaitForQuery(ctx context.Context, jobID string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case StatusReady:
			return job, nil
		case StatusError:
			return job, &JobFailedError{Job: job}
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Schema returns the columns sql produces.
func (c *Client) Schema(ctx context.Context, sql string) (*SchemaResult, error) {
	var out SchemaResult
	if err := c.postJSON(ctx, "/query/schema", map[string]string{"sql": sql}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metadata returns the schema and cache state of sql.
func (c *Client) Metadata(ctx context.Context, sql string) (*Metadata, error) {
	var out Metadata
	if err := c.postJSON(ctx, "/query/metadata", map[string]string{"sql": sql}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Queue returns executor load.
func (c *Client) Queue(ctx context.Context) (*QueueStats, error) {
	var out QueueStats
	if err := c.getJSON(ctx, "/system/queue", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryOptions filters job history.
type HistoryOptions struct {
	Status    string
	Limit     int
	PageToken string
}

// History lists jobs, newest first.
func (c *Client) History(ctx context.Context, opts HistoryOptions) (*JobList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("max_results", strconv.Itoa(opts.Limit))
	}
	if opts.PageToken != "" {
		q.Set("page_token", opts.PageToken)
	}
	var out JobList
	if err := c.getJSON(ctx, "/query", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
