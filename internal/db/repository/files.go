package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"duck-flight/internal/domain"
)

var _ domain.FileRegistry = (*FileRepo)(nil)

// FileRepo stores the discovered file registry in SQLite.
type FileRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewFileRepo creates a FileRepo. read may be nil.
func NewFileRepo(write, read *sql.DB) *FileRepo {
	if read == nil {
		read = write
	}
	return &FileRepo{write: write, read: read}
}

// Upsert inserts or refreshes files in one transaction and returns how many
// rows were new or changed.
func (r *FileRepo) Upsert(ctx context.Context, files []domain.DiscoveredFile) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}

	tx, err := r.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discovered_files (path, size_bytes, last_modified, file_type, registered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			last_modified = excluded.last_modified,
			file_type = excluded.file_type
		WHERE discovered_files.size_bytes != excluded.size_bytes
		   OR discovered_files.last_modified != excluded.last_modified
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	changed := 0
	for _, f := range files {
		registered := f.RegisteredAt
		if registered.IsZero() {
			registered = now
		}
		res, err := stmt.ExecContext(ctx, f.Path, f.SizeBytes, f.LastModified.UTC(), f.FileType, registered.UTC())
		if err != nil {
			return 0, mapDBError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		changed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return changed, nil
}

// List returns files ordered by path plus the total matching count.
func (r *FileRepo) List(ctx context.Context, filter domain.FileFilter) ([]domain.DiscoveredFile, int64, error) {
	clause, args := fileWhere(filter.FileType, filter.PathPrefix)

	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM discovered_files`+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}

	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.read.QueryContext(ctx, `
		SELECT path, size_bytes, last_modified, file_type, registered_at
		FROM discovered_files`+clause+`
		ORDER BY path
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var files []domain.DiscoveredFile
	for rows.Next() {
		var f domain.DiscoveredFile
		if err := rows.Scan(&f.Path, &f.SizeBytes, &f.LastModified, &f.FileType, &f.RegisteredAt); err != nil {
			return nil, 0, err
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
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM discovered_files`+clause, args...).Scan(&n); err != nil {
		return 0, mapDBError(err)
	}
	return n, nil
}

// Types returns the number of files per type, most common first.
func (r *FileRepo) Types(ctx context.Context) ([]domain.FileTypeCount, error) {
	rows, err := r.read.QueryContext(ctx, `
		SELECT file_type, COUNT(*) FROM discovered_files
		GROUP BY file_type
		ORDER BY COUNT(*) DESC, file_type`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.FileTypeCount
	for rows.Next() {
		var c domain.FileTypeCount
		if err := rows.Scan(&c.FileType, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func fileWhere(fileType, pathPrefix string) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if fileType != "" {
		where = append(where, "file_type = ?")
		args = append(args, fileType)
	}
	if pathPrefix != "" {
		where = append(where, "substr(path, 1, ?) = ?")
		args = append(args, utf8.RuneCountInString(pathPrefix), pathPrefix)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}
