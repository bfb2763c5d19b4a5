package domain

import (
	"context"
	"time"
)

// JobRegistry is the durable store of job records.
// Implemented by repository.JobRepo (SQLite) and postgres.JobRepo.
type JobRegistry interface {
	Insert(ctx context.Context, job *Job) error
	MarkReady(ctx context.Context, jobID string, res ReadyResult, completedAt time.Time) error
	MarkError(ctx context.Context, jobID string, detail string, completedAt time.Time) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	FindLatestReadyByFingerprint(ctx context.Context, fingerprint string) (*Job, error)
	QueueStats(ctx context.Context) (*RegistryStats, error)
	List(ctx context.Context, filter JobFilter) ([]Job, int64, error)
}

// FileRegistry stores the objects found by file discovery.
type FileRegistry interface {
	Upsert(ctx context.Context, files []DiscoveredFile) (int, error)
	List(ctx context.Context, filter FileFilter) ([]DiscoveredFile, int64, error)
	Count(ctx context.Context, fileType string) (int64, error)
	Types(ctx context.Context) ([]FileTypeCount, error)
}
