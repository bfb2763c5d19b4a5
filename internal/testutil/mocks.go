// Package testutil provides shared fakes of domain interfaces for tests
// across the codebase.
package testutil

import (
	"context"
	"sync"
	"time"

	"duck-flight/internal/domain"
	"duck-flight/internal/scheduler"
)

// === Job Registry Mock ===

// MockJobRegistry implements domain.JobRegistry. Methods without a Fn set
// panic so unexpected calls fail loudly.
type MockJobRegistry struct {
	InsertFn     func(ctx context.Context, job *domain.Job) error
	MarkReadyFn  func(ctx context.Context, jobID string, res domain.ReadyResult, completedAt time.Time) error
	MarkErrorFn  func(ctx context.Context, jobID, detail string, completedAt time.Time) error
	GetByIDFn    func(ctx context.Context, jobID string) (*domain.Job, error)
	FindLatestFn func(ctx context.Context, fingerprint string) (*domain.Job, error)
	QueueStatsFn func(ctx context.Context) (*domain.RegistryStats, error)
	ListFn       func(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error)
}

// Insert implements domain.JobRegistry.
func (m *MockJobRegistry) Insert(ctx context.Context, job *domain.Job) error {
	if m.InsertFn != nil {
		return m.InsertFn(ctx, job)
	}
	panic("unexpected call to MockJobRegistry.Insert")
}

// MarkReady implements domain.JobRegistry.
func (m *MockJobRegistry) MarkReady(ctx context.Context, jobID string, res domain.ReadyResult, completedAt time.Time) error {
	if m.MarkReadyFn != nil {
		return m.MarkReadyFn(ctx, jobID, res, completedAt)
	}
	panic("unexpected call to MockJobRegistry.MarkReady")
}

// MarkError implements domain.JobRegistry.
func (m *MockJobRegistry) MarkError(ctx context.Context, jobID, detail string, completedAt time.Time) error {
	if m.MarkErrorFn != nil {
		return m.MarkErrorFn(ctx, jobID, detail, completedAt)
	}
	panic("unexpected call to MockJobRegistry.MarkError")
}

// GetByID implements domain.JobRegistry.
func (m *MockJobRegistry) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, jobID)
	}
	panic("unexpected call to MockJobRegistry.GetByID")
}

// FindLatestReadyByFingerprint implements domain.JobRegistry.
func (m *MockJobRegistry) FindLatestReadyByFingerprint(ctx context.Context, fingerprint string) (*domain.Job, error) {
	if m.FindLatestFn != nil {
		return m.FindLatestFn(ctx, fingerprint)
	}
	panic("unexpected call to MockJobRegistry.FindLatestReadyByFingerprint")
}

// QueueStats implements domain.JobRegistry.
func (m *MockJobRegistry) QueueStats(ctx context.Context) (*domain.RegistryStats, error) {
	if m.QueueStatsFn != nil {
		return m.QueueStatsFn(ctx)
	}
	panic("unexpected call to MockJobRegistry.QueueStats")
}

// List implements domain.JobRegistry.
func (m *MockJobRegistry) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockJobRegistry.List")
}

// === Metrics Sink ===

// Measurement is one call to RecordingSink.Record.
type Measurement struct {
	Event  string
	Value  float64
	Labels map[string]string
}

// RecordingSink collects every measurement it receives.
type RecordingSink struct {
	mu   sync.Mutex
	recs []Measurement
}

// Record implements domain.MetricsSink.
func (s *RecordingSink) Record(event string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, Measurement{Event: event, Value: value, Labels: labels})
}

// Events returns the measurements named event.
func (s *RecordingSink) Events(event string) []Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Measurement
	for _, r := range s.recs {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many measurements named event carry label key=value.
// An empty key matches every measurement of the event.
func (s *RecordingSink) Count(event, key, value string) int {
	n := 0
	for _, r := range s.Events(event) {
		if key == "" || r.Labels[key] == value {
			n++
		}
	}
	return n
}

// === Executor ===

// ManualExecutor queues submitted tasks until RunAll is called. Set Err to
// make Submit fail.
type ManualExecutor struct {
	mu    sync.Mutex
	tasks []scheduler.Task
	Err   error
	Max   int
}

// Submit implements query.Executor.
func (e *ManualExecutor) Submit(_ string, task scheduler.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.tasks = append(e.tasks, task)
	return nil
}

// Stats implements query.Executor.
func (e *ManualExecutor) Stats() domain.SchedulerStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.SchedulerStats{QueueDepth: len(e.tasks), MaxWorkers: e.Max}
}

// Pending returns the number of tasks not yet run.
func (e *ManualExecutor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// RunAll runs the queued tasks in order on the calling goroutine.
func (e *ManualExecutor) RunAll(ctx context.Context) {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()
	for _, t := range tasks {
		t(ctx)
	}
}
