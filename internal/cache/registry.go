package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"duck-flight/internal/domain"
)

var _ domain.JobRegistry = (*JobRegistry)(nil)

// DefaultTTL bounds how long a cached terminal record lives.
const DefaultTTL = 24 * time.Hour

// JobRegistry wraps a registry and serves GetByID for terminal jobs from the
// cache. Terminal records never change, so a cached copy cannot go stale.
// Pending records are never cached. Cache errors are logged and the call
// falls through to the wrapped registry.
type JobRegistry struct {
	domain.JobRegistry
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewJobRegistry wraps inner with c.
func NewJobRegistry(inner domain.JobRegistry, c Cache, ttl time.Duration, logger *slog.Logger) *JobRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRegistry{JobRegistry: inner, cache: c, ttl: ttl, logger: logger}
}

type cachedJob struct {
	ID          string               `json:"id"`
	SQLText     string               `json:"sql"`
	Fingerprint string               `json:"fingerprint"`
	Status      domain.JobStatus     `json:"status"`
	Format      *domain.ResultFormat `json:"format,omitempty"`
	CacheKey    *string              `json:"cache_key,omitempty"`
	RowCount    *int64               `json:"row_count,omitempty"`
	ByteSize    *int64               `json:"byte_size,omitempty"`
	ErrorDetail *string              `json:"error_detail,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// GetByID returns the job, from cache when it is terminal.
func (r *JobRegistry) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	key := JobKey(jobID)
	if raw, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn("job cache read failed", "job_id", jobID, "error", err)
	} else if ok {
		var c cachedJob
		if err := json.Unmarshal(raw, &c); err == nil {
			job := domain.Job(c)
			return &job, nil
		}
		r.logger.Warn("job cache entry corrupt", "job_id", jobID)
	}

	job, err := r.JobRegistry.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		r.store(ctx, job)
	}
	return job, nil
}

// MarkReady records the transition and drops any cached copy.
func (r *JobRegistry) MarkReady(ctx context.Context, jobID string, res domain.ReadyResult, completedAt time.Time) error {
	if err := r.JobRegistry.MarkReady(ctx, jobID, res, completedAt); err != nil {
		return err
	}
	r.invalidate(ctx, jobID)
	return nil
}

// MarkError records the transition and drops any cached copy.
func (r *JobRegistry) MarkError(ctx context.Context, jobID string, detail string, completedAt time.Time) error {
	if err := r.JobRegistry.MarkError(ctx, jobID, detail, completedAt); err != nil {
		return err
	}
	r.invalidate(ctx, jobID)
	return nil
}

func (r *JobRegistry) store(ctx context.Context, job *domain.Job) {
	raw, err := json.Marshal(cachedJob(*job))
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, JobKey(job.ID), raw, r.ttl); err != nil {
		r.logger.Warn("job cache write failed", "job_id", job.ID, "error", err)
	}
}

func (r *JobRegistry) invalidate(ctx context.Context, jobID string) {
	if err := r.cache.Delete(ctx, JobKey(jobID)); err != nil {
		r.logger.Warn("job cache delete failed", "job_id", jobID, "error", err)
	}
}
