package domain

import "time"

// JobStatus represents the lifecycle state of a query job.
type JobStatus string

// Job lifecycle statuses. A job starts pending and moves exactly once to
// ready or error.
const (
	JobStatusPending JobStatus = "pending"
	JobStatusReady   JobStatus = "ready"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReady || s == JobStatusError
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusReady, JobStatusError:
		return true
	}
	return false
}

// ResultFormat is the encoding of a persisted result.
type ResultFormat string

// Result encodings.
const (
	FormatColumnarStream ResultFormat = "columnar-stream"
	FormatCompressedRows ResultFormat = "compressed-rows"
)

// Valid reports whether f is a known format.
func (f ResultFormat) Valid() bool {
	return f == FormatColumnarStream || f == FormatCompressedRows
}

// Extension returns the object key suffix for the format.
func (f ResultFormat) Extension() string {
	if f == FormatColumnarStream {
		return "arrow"
	}
	return "json.gz"
}

// ContentType returns the media type a download is served with.
func (f ResultFormat) ContentType() string {
	if f == FormatColumnarStream {
		return "application/vnd.apache.arrow.stream"
	}
	return "application/json"
}

// Job is one tracked execution attempt.
//
// CacheKey, RowCount and ByteSize are set iff Status is ready; ErrorDetail is
// set iff Status is error.
type Job struct {
	ID          string
	SQLText     string
	Fingerprint string
	Status      JobStatus
	Format      *ResultFormat
	CacheKey    *string
	RowCount    *int64
	ByteSize    *int64
	ErrorDetail *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ReadyResult is the outcome recorded by a successful execution.
type ReadyResult struct {
	CacheKey string
	Format   ResultFormat
	RowCount int64
	ByteSize int64
}

// ResultOf returns the ready result of a ready job, or false.
func (j *Job) ResultOf() (ReadyResult, bool) {
	if j.Status != JobStatusReady || j.CacheKey == nil || j.Format == nil {
		return ReadyResult{}, false
	}
	res := ReadyResult{CacheKey: *j.CacheKey, Format: *j.Format}
	if j.RowCount != nil {
		res.RowCount = *j.RowCount
	}
	if j.ByteSize != nil {
		res.ByteSize = *j.ByteSize
	}
	return res, true
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status      JobStatus
	Fingerprint string
	Page        PageRequest
}

// RegistryStats summarizes job counts by status.
type RegistryStats struct {
	PendingCount int64 `json:"pending_count"`
	ReadyCount   int64 `json:"ready_count"`
	ErrorCount   int64 `json:"error_count"`
	Total        int64 `json:"total"`
}

// SchedulerStats reports the executor's live load.
type SchedulerStats struct {
	QueueDepth    int `json:"executor_queue_depth"`
	ActiveWorkers int `json:"active_workers"`
	MaxWorkers    int `json:"max_workers"`
}
