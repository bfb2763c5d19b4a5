package client

import (
	"encoding/json"
	"time"
)

// Job statuses.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusError   = "error"
)

// Result formats.
const (
	FormatColumnarStream = "columnar-stream"
	FormatCompressedRows = "compressed-rows"
)

// Column is one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SubmitResponse is the answer to a submission. Kind is inline, cached or
// pending. Rows is only set for inline answers.
type SubmitResponse struct {
	Kind        string            `json:"kind"`
	Fingerprint string            `json:"fingerprint"`
	JobID       string            `json:"job_id,omitempty"`
	Status      string            `json:"status,omitempty"`
	CacheKey    string            `json:"cache_key,omitempty"`
	Format      string            `json:"format,omitempty"`
	RowCount    *int64            `json:"row_count,omitempty"`
	Error       string            `json:"error,omitempty"`
	ResultURL   string            `json:"result_url,omitempty"`
	Columns     []Column          `json:"columns,omitempty"`
	Rows        []json.RawMessage `json:"rows,omitempty"`
}

// Job is a job record.
type Job struct {
	JobID       string     `json:"job_id"`
	Fingerprint string     `json:"fingerprint"`
	SQL         string     `json:"sql"`
	Status      string     `json:"status"`
	Format      *string    `json:"format,omitempty"`
	CacheKey    *string    `json:"cache_key,omitempty"`
	RowCount    *int64     `json:"row_count,omitempty"`
	ByteSize    *int64     `json:"byte_size,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ResultURL   string     `json:"result_url,omitempty"`
}

// JobList is one page of job history.
type JobList struct {
	Items         []Job  `json:"items"`
	Total         int64  `json:"total"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// SchemaResult lists the columns of a query.
type SchemaResult struct {
	Fingerprint string   `json:"fingerprint"`
	Columns     []Column `json:"columns"`
	Source      string   `json:"source"`
}

// Metadata describes a query result and its cache state.
type Metadata struct {
	Fingerprint  string     `json:"fingerprint"`
	Columns      []Column   `json:"schema"`
	NumColumns   int        `json:"num_columns"`
	Cached       bool       `json:"cached"`
	Key          *string    `json:"key"`
	Format       *string    `json:"format"`
	NumRows      *int64     `json:"num_rows"`
	FileSize     *int64     `json:"file_size"`
	LastModified *time.Time `json:"last_modified"`
	JobID        *string    `json:"job_id"`
}

// JobCounts counts jobs by status.
type JobCounts struct {
	Pending int64 `json:"pending_count"`
	Ready   int64 `json:"ready_count"`
	Error   int64 `json:"error_count"`
	Total   int64 `json:"total"`
}

// QueueStats is executor load plus registry counts.
type QueueStats struct {
	QueueDepth    int       `json:"executor_queue_depth"`
	ActiveWorkers int       `json:"active_workers"`
	MaxWorkers    int       `json:"max_workers"`
	PendingJobs   int64     `json:"pending_jobs"`
	Jobs          JobCounts `json:"jobs"`
}
