// Package scheduler runs background tasks on a bounded worker pool with a
// bounded admission queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"duck-flight/internal/domain"
)

// Defaults used when Config leaves a field at zero.
const (
	DefaultMaxWorkers = 4
	DefaultQueueSize  = 256
)

// Config sizes the scheduler.
type Config struct {
	MaxWorkers int
	QueueSize  int
}

// Task is a unit of background work. ctx is cancelled only when Shutdown
// gives up waiting.
type Task func(ctx context.Context)

type queuedTask struct {
	name string
	run  Task
}

// Scheduler admits at most QueueSize waiting tasks and runs them in FIFO
// order on an ants pool of MaxWorkers goroutines. A task the dispatcher holds
// while every worker is busy counts as waiting. Submit never blocks.
type Scheduler struct {
	pool      *ants.Pool
	queue     chan queuedTask
	queueSize int
	logger    *slog.Logger
	sink      domain.MetricsSink

	mu     sync.RWMutex
	closed bool

	queued atomic.Int64
	active atomic.Int64
	tasks  sync.WaitGroup

	ctx          context.Context
	cancel       context.CancelFunc
	dispatchDone chan struct{}
}

// New starts a scheduler. sink may be nil.
func New(cfg Config, logger *slog.Logger, sink domain.MetricsSink) (*Scheduler, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = domain.NopSink{}
	}
	logger = logger.With("component", "scheduler")

	pool, err := ants.NewPool(cfg.MaxWorkers, ants.WithPanicHandler(func(v any) {
		logger.Error("worker panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		pool:         pool,
		queue:        make(chan queuedTask, cfg.QueueSize),
		queueSize:    cfg.QueueSize,
		logger:       logger,
		sink:         sink,
		ctx:          ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
	}
	go s.dispatch()
	logger.Info("scheduler started", "max_workers", cfg.MaxWorkers, "queue_size", cfg.QueueSize)
	return s, nil
}

// Submit enqueues task. It returns *domain.CapacityExceededError when the
// queue is full and domain.ErrSchedulerClosed after Shutdown.
func (s *Scheduler) Submit(name string, task Task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.ErrSchedulerClosed
	}

	if s.queued.Add(1) > int64(s.queueSize) {
		s.queued.Add(-1)
		s.logger.Warn("queue full, task rejected", "task", name, "queue_size", s.queueSize)
		return &domain.CapacityExceededError{QueueSize: s.queueSize}
	}
	// The channel holds no more than queued tasks, so the send cannot block.
	s.tasks.Add(1)
	s.queue <- queuedTask{name: name, run: task}
	s.recordGauges()
	return nil
}

// dispatch hands queued tasks to the pool in FIFO order. pool.Submit blocks
// while every worker is busy, which keeps the remaining tasks queued.
func (s *Scheduler) dispatch() {
	defer close(s.dispatchDone)
	for qt := range s.queue {
		if err := s.pool.Submit(func() { s.run(qt) }); err != nil {
			s.queued.Add(-1)
			s.tasks.Done()
			s.logger.Error("dispatch failed", "task", qt.name, "error", err)
		}
	}
}

func (s *Scheduler) run(qt queuedTask) {
	s.queued.Add(-1)
	s.active.Add(1)
	s.recordGauges()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task", qt.name, "panic", r, "stack", string(debug.Stack()))
		}
		s.active.Add(-1)
		s.recordGauges()
		s.tasks.Done()
	}()
	qt.run(s.ctx)
}

func (s *Scheduler) recordGauges() {
	s.sink.Record(domain.EventQueueDepth, float64(s.queued.Load()), nil)
	s.sink.Record(domain.EventActiveWorkers, float64(s.active.Load()), nil)
}

// Stats reports current load.
func (s *Scheduler) Stats() domain.SchedulerStats {
	return domain.SchedulerStats{
		QueueDepth:    int(s.queued.Load()),
		ActiveWorkers: int(s.active.Load()),
		MaxWorkers:    s.pool.Cap(),
	}
}

// Shutdown stops admission and waits for queued and running tasks. When ctx
// expires first, running tasks are cancelled and ctx.Err() is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.dispatchDone
		s.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.pool.Release()
		s.logger.Info("scheduler drained")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.pool.Release()
		s.logger.Warn("scheduler shutdown timed out", "queued", s.queued.Load(), "active", s.active.Load())
		return ctx.Err()
	}
}
