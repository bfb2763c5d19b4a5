package query

import (
	"context"
	"fmt"
	"time"

	"duck-flight/internal/domain"
	"duck-flight/internal/materialize"
)

// flightResult is shared by every job that joined one execution.
type flightResult struct {
	res    domain.ReadyResult
	leader string // job marked ready inside the flight
}

// run is the background unit of work for one job. It always leaves the job
// terminal unless the registry itself fails.
func (s *Service) run(ctx context.Context, job *domain.Job) {
	start := s.now()
	logger := s.logger.With("job_id", job.ID, "fingerprint", job.Fingerprint)
	// Marks use a context that survives cancellation so a job is never left
	// pending because shutdown cut the run short.
	markCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r)
			s.finishError(markCtx, job, fmt.Sprintf("internal error: %v", r), start)
		}
	}()

	out, err := s.resolve(ctx, markCtx, job)
	if err != nil {
		logger.Warn("query failed", "error", err)
		s.finishError(markCtx, job, err.Error(), start)
		return
	}

	if out.leader != job.ID {
		if err := s.registry.MarkReady(markCtx, job.ID, out.res, s.now()); err != nil {
			logger.Error("mark ready failed", "error", err)
			return
		}
	}
	s.sink.Record(domain.EventQueryDuration, s.now().Sub(start).Seconds(), map[string]string{"format": string(out.res.Format), "status": string(domain.JobStatusReady)})
	logger.Info("query ready", "key", out.res.CacheKey, "format", out.res.Format, "rows", out.res.RowCount, "bytes", out.res.ByteSize, "executed", out.leader == job.ID)
}

// resolve produces the result for job. An existing ready result for the same
// fingerprint is adopted. Otherwise concurrent jobs with that fingerprint
// share one execution; its leader marks its own job ready before the flight
// ends, so a job starting afterwards finds the result in the registry.
func (s *Service) resolve(ctx, markCtx context.Context, job *domain.Job) (flightResult, error) {
	if _, res, ok, err := s.lookupReady(ctx, job.Fingerprint); err != nil {
		return flightResult{}, err
	} else if ok {
		return flightResult{res: res}, nil
	}

	v, err, _ := s.flight.Do(job.Fingerprint, func() (any, error) {
		if _, res, ok, err := s.lookupReady(ctx, job.Fingerprint); err != nil {
			return nil, err
		} else if ok {
			return flightResult{res: res}, nil
		}
		out, err := s.materialize(ctx, job)
		if err != nil {
			return nil, err
		}
		res := out.Ready()
		if err := s.registry.MarkReady(markCtx, job.ID, res, s.now()); err != nil {
			return nil, fmt.Errorf("mark ready: %w", err)
		}
		return flightResult{res: res, leader: job.ID}, nil
	})
	if err != nil {
		return flightResult{}, err
	}
	return v.(flightResult), nil
}

// materialize runs job on one execution slot.
func (s *Service) materialize(ctx context.Context, job *domain.Job) (materialize.Result, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return materialize.Result{}, err
	}
	defer s.slots.Release(1)
	return s.mat.Materialize(ctx, job.SQLText, job.Fingerprint)
}

func (s *Service) finishError(ctx context.Context, job *domain.Job, detail string, start time.Time) {
	if err := s.registry.MarkError(ctx, job.ID, detail, s.now()); err != nil {
		s.logger.Error("mark error failed", "job_id", job.ID, "error", err)
		return
	}
	s.sink.Record(domain.EventQueryDuration, s.now().Sub(start).Seconds(), map[string]string{"status": string(domain.JobStatusError)})
}
