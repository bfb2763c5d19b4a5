package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"duck-flight/internal/domain"
)

var _ domain.JobRegistry = (*JobRepo)(nil)

const jobColumns = `job_id, sql_text, query_fingerprint, status, format, cache_key,
	row_count, byte_size, error_detail, created_at, completed_at`

// JobRepo stores query job records in SQLite. Writes go through the single
// connection write pool; reads use the read pool.
type JobRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewJobRepo creates a JobRepo. read may be nil, in which case write serves
// reads too.
func NewJobRepo(write, read *sql.DB) *JobRepo {
	if read == nil {
		read = write
	}
	return &JobRepo{write: write, read: read}
}

// Insert creates a pending job.
func (r *JobRepo) Insert(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return domain.ErrValidation("query job is required")
	}
	if job.ID == "" || job.Fingerprint == "" {
		return domain.ErrValidation("job id and fingerprint are required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.Status = domain.JobStatusPending

	_, err := r.write.ExecContext(ctx, `
		INSERT INTO query_jobs (job_id, sql_text, query_fingerprint, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, job.ID, job.SQLText, job.Fingerprint, string(domain.JobStatusPending), job.CreatedAt)
	if err != nil {
		err = mapDBError(err)
		if _, dup := err.(*domain.DuplicateKeyError); dup {
			return domain.ErrDuplicateKey("query job %q already exists", job.ID)
		}
		return err
	}
	return nil
}

// MarkReady moves a pending job to ready.
func (r *JobRepo) MarkReady(ctx context.Context, jobID string, res domain.ReadyResult, completedAt time.Time) error {
	if !res.Format.Valid() || res.CacheKey == "" {
		return domain.ErrValidation("ready result needs a cache key and a valid format")
	}
	result, err := r.write.ExecContext(ctx, `
		UPDATE query_jobs
		SET status = ?, format = ?, cache_key = ?, row_count = ?, byte_size = ?, completed_at = ?
		WHERE job_id = ? AND status = ?
	`, string(domain.JobStatusReady), string(res.Format), res.CacheKey, res.RowCount, res.ByteSize,
		completedAt.UTC(), jobID, string(domain.JobStatusPending))
	if err != nil {
		return mapDBError(err)
	}
	return r.checkTransition(ctx, result, jobID, domain.JobStatusReady)
}

// MarkError moves a pending job to error.
func (r *JobRepo) MarkError(ctx context.Context, jobID string, detail string, completedAt time.Time) error {
	if detail == "" {
		detail = "unknown error"
	}
	result, err := r.write.ExecContext(ctx, `
		UPDATE query_jobs
		SET status = ?, error_detail = ?, completed_at = ?
		WHERE job_id = ? AND status = ?
	`, string(domain.JobStatusError), detail, completedAt.UTC(), jobID, string(domain.JobStatusPending))
	if err != nil {
		return mapDBError(err)
	}
	return r.checkTransition(ctx, result, jobID, domain.JobStatusError)
}

// checkTransition resolves a conditional update that touched no rows into
// not-found or invalid-transition. Status only moves forward, so a job seen
// as terminal here was already terminal when the update ran.
func (r *JobRepo) checkTransition(ctx context.Context, result sql.Result, jobID string, to domain.JobStatus) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = r.write.QueryRowContext(ctx, `SELECT status FROM query_jobs WHERE job_id = ?`, jobID).Scan(&status)
	if err != nil {
		if domain.IsNotFound(mapDBError(err)) {
			return domain.ErrNotFound("query job %q not found", jobID)
		}
		return mapDBError(err)
	}
	return &domain.InvalidTransitionError{JobID: jobID, From: domain.JobStatus(status), To: to}
}

// GetByID returns a job by ID.
func (r *JobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := r.getOne(ctx, `SELECT `+jobColumns+` FROM query_jobs WHERE job_id = ?`, jobID)
	if domain.IsNotFound(err) {
		return nil, domain.ErrNotFound("query job %q not found", jobID)
	}
	return job, err
}

// FindLatestReadyByFingerprint returns the most recently completed ready job
// for fingerprint.
func (r *JobRepo) FindLatestReadyByFingerprint(ctx context.Context, fingerprint string) (*domain.Job, error) {
	job, err := r.getOne(ctx, `
		SELECT `+jobColumns+` FROM query_jobs
		WHERE query_fingerprint = ? AND status = ?
		ORDER BY completed_at DESC, rowid DESC
		LIMIT 1
	`, fingerprint, string(domain.JobStatusReady))
	if domain.IsNotFound(err) {
		return nil, domain.ErrNotFound("no ready job for fingerprint %q", fingerprint)
	}
	return job, err
}

// QueueStats counts jobs by status.
func (r *JobRepo) QueueStats(ctx context.Context) (*domain.RegistryStats, error) {
	rows, err := r.read.QueryContext(ctx, `SELECT status, COUNT(*) FROM query_jobs GROUP BY status`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var stats domain.RegistryStats
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusPending:
			stats.PendingCount = n
		case domain.JobStatusReady:
			stats.ReadyCount = n
		case domain.JobStatusError:
			stats.ErrorCount = n
		}
		stats.Total += n
	}
	return &stats, rows.Err()
}

// List returns jobs newest first, plus the total matching count.
func (r *JobRepo) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Fingerprint != "" {
		where = append(where, "query_fingerprint = ?")
		args = append(args, filter.Fingerprint)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}

	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.read.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM query_jobs`+clause+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, 0, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, total, rows.Err()
}

func (r *JobRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.Job, error) {
	job, err := scanJob(r.read.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, mapDBError(err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                domain.Job
		status             string
		format, cacheKey   sql.NullString
		errorDetail        sql.NullString
		rowCount, byteSize sql.NullInt64
		createdAt          time.Time
		completedAt        sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.SQLText,
		&job.Fingerprint,
		&status,
		&format,
		&cacheKey,
		&rowCount,
		&byteSize,
		&errorDetail,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	if format.Valid {
		f := domain.ResultFormat(format.String)
		job.Format = &f
	}
	job.CacheKey = nullString(cacheKey)
	job.RowCount = nullInt64(rowCount)
	job.ByteSize = nullInt64(byteSize)
	job.ErrorDetail = nullString(errorDetail)
	job.CreatedAt = createdAt.UTC()
	job.CompletedAt = nullTime(completedAt)
	return &job, nil
}
