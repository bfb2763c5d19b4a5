package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"duck-flight/internal/domain"
)

var _ domain.JobRegistry = (*JobRepo)(nil)

const jobColumns = `job_id, sql_text, query_fingerprint, status, format, cache_key,
	row_count, byte_size, error_detail, created_at, completed_at`

// JobRepo stores query job records in PostgreSQL.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo creates a JobRepo on pool.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Insert creates a pending job.
func (r *JobRepo) Insert(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" || job.Fingerprint == "" {
		return domain.ErrValidation("job id and fingerprint are required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.Status = domain.JobStatusPending

	_, err := r.pool.Exec(ctx, `
		INSERT INTO query_jobs (job_id, sql_text, query_fingerprint, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.SQLText, job.Fingerprint, string(domain.JobStatusPending), job.CreatedAt)
	if err != nil {
		err = mapPgError(err)
		if _, dup := err.(*domain.DuplicateKeyError); dup {
			return domain.ErrDuplicateKey("query job %q already exists", job.ID)
		}
		return fmt.Errorf("insert query job: %w", err)
	}
	return nil
}

// MarkReady moves a pending job to ready.
func (r *JobRepo) MarkReady(ctx context.Context, jobID string, res domain.ReadyResult, completedAt time.Time) error {
	if !res.Format.Valid() || res.CacheKey == "" {
		return domain.ErrValidation("ready result needs a cache key and a valid format")
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE query_jobs
		SET status = $1, format = $2, cache_key = $3, row_count = $4, byte_size = $5, completed_at = $6
		WHERE job_id = $7 AND status = $8`,
		string(domain.JobStatusReady), string(res.Format), res.CacheKey, res.RowCount, res.ByteSize,
		completedAt.UTC(), jobID, string(domain.JobStatusPending))
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	return r.checkTransition(ctx, tag.RowsAffected(), jobID, domain.JobStatusReady)
}

// MarkError moves a pending job to error.
func (r *JobRepo) MarkError(ctx context.Context, jobID string, detail string, completedAt time.Time) error {
	if detail == "" {
		detail = "unknown error"
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE query_jobs
		SET status = $1, error_detail = $2, completed_at = $3
		WHERE job_id = $4 AND status = $5`,
		string(domain.JobStatusError), detail, completedAt.UTC(), jobID, string(domain.JobStatusPending))
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return r.checkTransition(ctx, tag.RowsAffected(), jobID, domain.JobStatusError)
}

func (r *JobRepo) checkTransition(ctx context.Context, affected int64, jobID string, to domain.JobStatus) error {
	if affected > 0 {
		return nil
	}
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM query_jobs WHERE job_id = $1`, jobID).Scan(&status)
	if err != nil {
		if domain.IsNotFound(mapPgError(err)) {
			return domain.ErrNotFound("query job %q not found", jobID)
		}
		return fmt.Errorf("read job status: %w", err)
	}
	return &domain.InvalidTransitionError{JobID: jobID, From: domain.JobStatus(status), To: to}
}

// GetByID returns a job by ID.
func (r *JobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM query_jobs WHERE job_id = $1`, jobID))
	if err != nil {
		if domain.IsNotFound(mapPgError(err)) {
			return nil, domain.ErrNotFound("query job %q not found", jobID)
		}
		return nil, fmt.Errorf("get query job: %w", err)
	}
	return job, nil
}

// FindLatestReadyByFingerprint returns the most recently completed ready job.
func (r *JobRepo) FindLatestReadyByFingerprint(ctx context.Context, fingerprint string) (*domain.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM query_jobs
		WHERE query_fingerprint = $1 AND status = $2
		ORDER BY completed_at DESC, job_id DESC
		LIMIT 1`, fingerprint, string(domain.JobStatusReady)))
	if err != nil {
		if domain.IsNotFound(mapPgError(err)) {
			return nil, domain.ErrNotFound("no ready job for fingerprint %q", fingerprint)
		}
		return nil, fmt.Errorf("find ready job: %w", err)
	}
	return job, nil
}

// QueueStats counts jobs by status.
func (r *JobRepo) QueueStats(ctx context.Context) (*domain.RegistryStats, error) {
	var stats domain.RegistryStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'ready'),
			COUNT(*) FILTER (WHERE status = 'error'),
			COUNT(*)
		FROM query_jobs`,
	).Scan(&stats.PendingCount, &stats.ReadyCount, &stats.ErrorCount, &stats.Total)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &stats, nil
}

// List returns jobs newest first, plus the total matching count.
func (r *JobRepo) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Fingerprint != "" {
		args = append(args, filter.Fingerprint)
		where = append(where, fmt.Sprintf("query_fingerprint = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM query_jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query jobs: %w", err)
	}

	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM query_jobs%s ORDER BY created_at DESC, job_id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan query job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, total, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
		format *string
	)
	err := row.Scan(
		&job.ID,
		&job.SQLText,
		&job.Fingerprint,
		&status,
		&format,
		&job.CacheKey,
		&job.RowCount,
		&job.ByteSize,
		&job.ErrorDetail,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if format != nil {
		f := domain.ResultFormat(*format)
		job.Format = &f
	}
	job.CreatedAt = job.CreatedAt.UTC()
	if job.CompletedAt != nil {
		t := job.CompletedAt.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}
