// Package discovery catalogues the objects found in a bucket.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"duck-flight/internal/domain"
)

// DefaultSchedule is used when no cron schedule is configured.
const DefaultSchedule = "@every 5m"

// Status describes the most recent scan.
type Status struct {
	LastScan      *time.Time `json:"last_scan,omitempty"`
	FilesSeen     int        `json:"files_seen"`
	FilesUpserted int        `json:"files_upserted"`
	LastError     string     `json:"last_error,omitempty"`
	Running       bool       `json:"running"`
	Schedule      string     `json:"schedule,omitempty"`
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	FilesSeen     int       `json:"files_seen"`
	FilesUpserted int       `json:"files_upserted"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Service scans a bucket and upserts what it finds into the file registry.
type Service struct {
	store  domain.ObjectStore
	files  domain.FileRegistry
	prefix string
	logger *slog.Logger
	sink   domain.MetricsSink
	now    func() time.Time

	flight singleflight.Group

	mu       sync.Mutex
	status   Status
	cron     *cron.Cron
	schedule string
}

// NewService creates a discovery Service over store. prefix limits the scan
// to keys beginning with it.
func NewService(store domain.ObjectStore, files domain.FileRegistry, prefix string, logger *slog.Logger, sink domain.MetricsSink) *Service {
	if sink == nil {
		sink = domain.NopSink{}
	}
	return &Service{
		store:  store,
		files:  files,
		prefix: prefix,
		logger: logger.With("component", "discovery"),
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Scan lists the bucket and registers every object. Concurrent callers share
// one scan.
func (s *Service) Scan(ctx context.Context) (*ScanResult, error) {
	v, err, _ := s.flight.Do("scan", func() (interface{}, error) {
		return s.scan(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	res := v.(ScanResult)
	return &res, nil
}

func (s *Service) scan(ctx context.Context) (ScanResult, error) {
	s.mu.Lock()
	s.status.Running = true
	s.mu.Unlock()

	res, err := s.collect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	finished := s.now()
	s.status.LastScan = &finished
	if err != nil {
		s.status.LastError = err.Error()
		s.logger.Warn("discovery scan failed", "error", err)
		return ScanResult{}, err
	}
	res.FinishedAt = finished
	s.status.LastError = ""
	s.status.FilesSeen = res.FilesSeen
	s.status.FilesUpserted = res.FilesUpserted
	s.sink.Record(domain.EventDiscoveryFiles, float64(res.FilesSeen), nil)
	s.logger.Info("discovery scan finished", "files_seen", res.FilesSeen, "files_upserted", res.FilesUpserted)
	return res, nil
}

func (s *Service) collect(ctx context.Context) (ScanResult, error) {
	objs, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return ScanResult{}, fmt.Errorf("list objects: %w", err)
	}
	files := make([]domain.DiscoveredFile, 0, len(objs))
	for _, o := range objs {
		files = append(files, domain.DiscoveredFile{
			Path:         o.Key,
			SizeBytes:    o.Size,
			LastModified: o.LastModified,
			FileType:     domain.ClassifyFile(o.Key),
		})
	}
	n, err := s.files.Upsert(ctx, files)
	if err != nil {
		return ScanResult{}, fmt.Errorf("upsert files: %w", err)
	}
	return ScanResult{FilesSeen: len(files), FilesUpserted: n}, nil
}

// Status returns a snapshot of the last scan.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Schedule = s.schedule
	return st
}

// List returns registered files.
func (s *Service) List(ctx context.Context, filter domain.FileFilter) ([]domain.DiscoveredFile, int64, error) {
	return s.files.List(ctx, filter)
}

// Count returns the number of registered files, optionally of one type.
func (s *Service) Count(ctx context.Context, fileType string) (int64, error) {
	return s.files.Count(ctx, fileType)
}

// Types returns the distinct file types with their counts.
func (s *Service) Types(ctx context.Context) ([]domain.FileTypeCount, error) {
	return s.files.Types(ctx)
}

// Start schedules periodic scans and runs one immediately in the background.
func (s *Service) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Scan(ctx); err != nil {
			s.logger.Warn("scheduled scan failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid discovery schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	s.cron = c
	s.schedule = schedule
	s.mu.Unlock()

	c.Start()
	go func() {
		if _, err := s.Scan(ctx); err != nil {
			s.logger.Warn("initial scan failed", "error", err)
		}
	}()
	s.logger.Info("discovery scheduler started", "schedule", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running scan to finish.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Info("discovery scheduler stopped")
}
