// Package query decides whether a submitted query is answered inline, from
// the result cache, or by a background job, and serves job results.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"duck-flight/internal/domain"
	"duck-flight/internal/fingerprint"
	"duck-flight/internal/materialize"
	"duck-flight/internal/scheduler"
)

// Executor runs jobs in the background.
// Implemented by scheduler.Scheduler.
type Executor interface {
	Submit(name string, task scheduler.Task) error
	Stats() domain.SchedulerStats
}

// Materializer executes queries and stores their results.
// Implemented by materialize.Materializer.
type Materializer interface {
	Materialize(ctx context.Context, sqlQuery, fingerprint string) (materialize.Result, error)
	Inline(ctx context.Context, sqlQuery string, maxRows int64) (*materialize.InlineResult, error)
}

// Config holds the inline settings. MaxConcurrent bounds engine executions
// across inline answers and background jobs; zero takes the executor's
// worker count.
type Config struct {
	InlineEnabled bool
	InlineMaxRows int64
	InlineTimeout time.Duration
	MaxConcurrent int64
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{InlineEnabled: true, InlineMaxRows: 1000, InlineTimeout: 2 * time.Second}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Registry     domain.JobRegistry
	Store        domain.ObjectStore
	Engine       domain.QueryEngine
	Materializer Materializer
	Executor     Executor
	Logger       *slog.Logger
	Sink         domain.MetricsSink
}

// Service orchestrates submissions, status checks and downloads.
type Service struct {
	registry domain.JobRegistry
	store    domain.ObjectStore
	engine   domain.QueryEngine
	mat      Materializer
	exec     Executor
	cfg      Config
	logger   *slog.Logger
	sink     domain.MetricsSink
	flight   singleflight.Group
	slots    *semaphore.Weighted
	now      func() time.Time
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sink == nil {
		deps.Sink = domain.NopSink{}
	}
	if cfg.InlineMaxRows <= 0 {
		cfg.InlineMaxRows = DefaultConfig().InlineMaxRows
	}
	if cfg.InlineTimeout <= 0 {
		cfg.InlineTimeout = DefaultConfig().InlineTimeout
	}
	if cfg.MaxConcurrent <= 0 && deps.Executor != nil {
		cfg.MaxConcurrent = int64(deps.Executor.Stats().MaxWorkers)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Service{
		registry: deps.Registry,
		store:    deps.Store,
		engine:   deps.Engine,
		mat:      deps.Materializer,
		exec:     deps.Executor,
		cfg:      cfg,
		logger:   deps.Logger.With("component", "query"),
		sink:     deps.Sink,
		slots:    semaphore.NewWeighted(cfg.MaxConcurrent),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Kind says how a submission was answered.
type Kind string

// Submission outcomes.
const (
	KindInline  Kind = "inline"
	KindCached  Kind = "cached"
	KindPending Kind = "pending"
)

// SubmitRequest is a query submission. Rows are only returned inline when
// Inline is set to true.
type SubmitRequest struct {
	SQL    string
	Inline *bool
}

// SubmitResult is the answer to a submission. JobID is empty for inline
// answers.
type SubmitResult struct {
	Kind        Kind
	Fingerprint string
	JobID       string
	Status      domain.JobStatus
	CacheKey    string
	Format      domain.ResultFormat
	RowCount    int64
	ErrorDetail string
	Inline      *materialize.InlineResult
}

// Submit answers a query from the cache, inline, or by scheduling a job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	sqlText := strings.TrimSpace(req.SQL)
	if sqlText == "" {
		return nil, domain.ErrValidation("sql query is required")
	}
	fp := fingerprint.Of(sqlText)

	job, res, ok, err := s.lookupReady(ctx, fp)
	if err != nil {
		return nil, err
	}
	if ok {
		s.recordSubmission(KindCached)
		return &SubmitResult{
			Kind:        KindCached,
			Fingerprint: fp,
			JobID:       job.ID,
			Status:      domain.JobStatusReady,
			CacheKey:    res.CacheKey,
			Format:      res.Format,
			RowCount:    res.RowCount,
		}, nil
	}

	if s.inlineAllowed(req) && s.slots.TryAcquire(1) {
		out, done, err := s.tryInline(ctx, sqlText, fp)
		if err != nil || done {
			return out, err
		}
	}

	return s.enqueue(ctx, sqlText, fp)
}

func (s *Service) inlineAllowed(req SubmitRequest) bool {
	return s.cfg.InlineEnabled && req.Inline != nil && *req.Inline
}

// tryInline reads at most InlineMaxRows rows within InlineTimeout. done is
// false when the caller should fall back to a background job. It releases
// the execution slot the caller acquired.
func (s *Service) tryInline(ctx context.Context, sqlText, fp string) (*SubmitResult, bool, error) {
	defer s.slots.Release(1)
	pctx, cancel := context.WithTimeout(ctx, s.cfg.InlineTimeout)
	defer cancel()

	res, err := s.mat.Inline(pctx, sqlText, s.cfg.InlineMaxRows)
	switch {
	case err == nil:
		s.recordSubmission(KindInline)
		return &SubmitResult{Kind: KindInline, Fingerprint: fp, RowCount: res.RowCount, Inline: res}, true, nil
	case ctx.Err() != nil:
		return nil, true, ctx.Err()
	case errors.Is(err, materialize.ErrTooLargeForInline), errors.Is(err, context.DeadlineExceeded):
		return nil, false, nil
	}

	var ee *domain.ExecutionError
	if !errors.As(err, &ee) {
		return nil, true, err
	}
	// The query itself is broken; record the failure instead of running it again.
	job := &domain.Job{ID: domain.NewID(), SQLText: sqlText, Fingerprint: fp}
	if err := s.registry.Insert(ctx, job); err != nil {
		return nil, true, fmt.Errorf("insert job: %w", err)
	}
	detail := ee.Error()
	if err := s.registry.MarkError(ctx, job.ID, detail, s.now()); err != nil {
		return nil, true, fmt.Errorf("mark job error: %w", err)
	}
	s.recordSubmission(KindPending)
	return &SubmitResult{Kind: KindPending, Fingerprint: fp, JobID: job.ID, Status: domain.JobStatusError, ErrorDetail: detail}, true, nil
}

func (s *Service) enqueue(ctx context.Context, sqlText, fp string) (*SubmitResult, error) {
	job := &domain.Job{ID: domain.NewID(), SQLText: sqlText, Fingerprint: fp}
	if err := s.registry.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	err := s.exec.Submit("query:"+job.ID, func(tctx context.Context) { s.run(tctx, job) })
	if err != nil {
		detail := err.Error()
		var capErr *domain.CapacityExceededError
		if errors.As(err, &capErr) {
			detail = "capacity exceeded"
		}
		if merr := s.registry.MarkError(ctx, job.ID, detail, s.now()); merr != nil {
			s.logger.Error("mark rejected job failed", "job_id", job.ID, "error", merr)
		}
		s.recordSubmission("rejected")
		return nil, err
	}

	s.logger.Info("query scheduled", "job_id", job.ID, "fingerprint", fp)
	s.recordSubmission(KindPending)
	return &SubmitResult{Kind: KindPending, Fingerprint: fp, JobID: job.ID, Status: domain.JobStatusPending}, nil
}

// lookupReady returns the newest ready job for fp whose object still exists.
// A ready job whose object is gone counts as a miss.
func (s *Service) lookupReady(ctx context.Context, fp string) (*domain.Job, domain.ReadyResult, bool, error) {
	job, err := s.registry.FindLatestReadyByFingerprint(ctx, fp)
	if domain.IsNotFound(err) {
		return nil, domain.ReadyResult{}, false, nil
	}
	if err != nil {
		return nil, domain.ReadyResult{}, false, fmt.Errorf("lookup cached result: %w", err)
	}
	res, ok := job.ResultOf()
	if !ok {
		return nil, domain.ReadyResult{}, false, nil
	}
	exists, err := s.store.Exists(ctx, res.CacheKey)
	if err != nil {
		return nil, domain.ReadyResult{}, false, fmt.Errorf("check cached object: %w", err)
	}
	if !exists {
		s.logger.Warn("cached object missing, re-executing", "job_id", job.ID, "key", res.CacheKey)
		s.sink.Record(domain.EventCacheDrift, 1, nil)
		return nil, domain.ReadyResult{}, false, nil
	}
	return job, res, true, nil
}

func (s *Service) recordSubmission(outcome Kind) {
	s.sink.Record(domain.EventSubmission, 1, map[string]string{"outcome": string(outcome)})
}

// Status returns the job record.
func (s *Service) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.registry.GetByID(ctx, jobID)
}

// List returns job history, newest first.
func (s *Service) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, domain.ErrValidation("unknown status %q", filter.Status)
	}
	return s.registry.List(ctx, filter)
}

// QueueStats combines executor load with registry counts.
type QueueStats struct {
	domain.SchedulerStats
	PendingJobs int64                `json:"pending_jobs"`
	Jobs        domain.RegistryStats `json:"jobs"`
}

// QueueStats reports executor load and job counts.
func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	stats, err := s.registry.QueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry stats: %w", err)
	}
	return &QueueStats{SchedulerStats: s.exec.Stats(), PendingJobs: stats.PendingCount, Jobs: *stats}, nil
}
