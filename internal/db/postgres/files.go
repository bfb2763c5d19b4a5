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

var _ domain.FileRegistry = (*FileRepo)(nil)

// FileRepo stores the discovered file registry in PostgreSQL.
type FileRepo struct {
	pool *pgxpool.Pool
}

// NewFileRepo creates a FileRepo on pool.
func NewFileRepo(pool *pgxpool.Pool) *FileRepo {
	return &FileRepo{pool: pool}
}

// Upsert inserts or refreshes files in one batch and returns how many rows
// were new or changed.
func (r *FileRepo) Upsert(ctx context.Context, files []domain.DiscoveredFile) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, f := range files {
		registered := f.RegisteredAt
		if registered.IsZero() {
			registered = now
		}
		batch.Queue(`
			INSERT INTO discovered_files (path, size_bytes, last_modified, file_type, registered_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (path) DO UPDATE SET
				size_bytes = EXCLUDED.size_bytes,
				last_modified = EXCLUDED.last_modified,
				file_type = EXCLUDED.file_type
			WHERE discovered_files.size_bytes <> EXCLUDED.size_bytes
			   OR discovered_files.last_modified <> EXCLUDED.last_modified`,
			f.Path, f.SizeBytes, f.LastModified.UTC(), f.FileType, registered.UTC())
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	changed := 0
	for range files {
		tag, err := results.Exec()
		if err != nil {
			return changed, fmt.Errorf("upsert discovered file: %w", err)
		}
		changed += int(tag.RowsAffected())
	}
	return changed, nil
}

// List returns files ordered by path plus the total matching count.
func (r *FileRepo) List(ctx context.Context, filter domain.FileFilter) ([]domain.DiscoveredFile, int64, error) {
	clause, args := fileWhere(filter.FileType, filter.PathPrefix)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM discovered_files`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count discovered files: %w", err)
	}

	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT path, size_bytes, last_modified, file_type, registered_at
		FROM discovered_files%s
		ORDER BY path
		LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list discovered files: %w", err)
	}
	defer rows.Close()

	var files []domain.DiscoveredFile
	for rows.Next() {
		var f domain.DiscoveredFile
		if err := rows.Scan(&f.Path, &f.SizeBytes, &f.LastModified, &f.FileType, &f.RegisteredAt); err != nil {
			return nil, 0, fmt.Errorf("scan discovered file: %w", err)
		}
		f.LastModified = f.LastModified.UTC()
		f.RegisteredAt = f.RegisteredAt.UTC()
		files = append(files, f)
	}
	return files, total, rows.Err()
}

// Count returns the number of registered files, optionally of one type.
func (r *FileRepo) Count(ctx context.Context, fileType string) (int64, error) {
	clause, args := fileWhere(fileType, "")
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM discovered_files`+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count discovered files: %w", err)
	}
	return n, nil
}

// Types returns the number of files per type, most common first.
func (r *FileRepo) Types(ctx context.Context) ([]domain.FileTypeCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT file_type, COUNT(*) FROM discovered_files
		GROUP BY file_type
		ORDER BY COUNT(*) DESC, file_type`)
	if err != nil {
		return nil, fmt.Errorf("file types: %w", err)
	}
	defer rows.Close()

	var out []domain.FileTypeCount
	for rows.Next() {
		var c domain.FileTypeCount
		if err := rows.Scan(&c.FileType, &c.Count); err != nil {
			return nil, fmt.Errorf("scan file type: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func fileWhere(fileType, pathPrefix string) (string, []any) {
	var (
		where []string
		args  []any
	)
	if fileType != "" {
		args = append(args, fileType)
		where = append(where, fmt.Sprintf("file_type = $%d", len(args)))
	}
	if pathPrefix != "" {
		args = append(args, pathPrefix)
		where = append(where, fmt.Sprintf("starts_with(path, $%d)", len(args)))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}
