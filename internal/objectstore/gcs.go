package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"duck-flight/internal/domain"
)

var _ domain.ObjectStore = (*GCSStore)(nil)

// GCSStore stores objects in a Google Cloud Storage bucket. Writes use a
// resumable upload that is only committed when the writer is closed.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	chunkSize int
}

// NewGCSStore creates a GCSStore. Endpoint, when set, points at an emulator
// and disables authentication.
func NewGCSStore(ctx context.Context, cfg Config) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.GCSCredentialsFile != "":
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSCredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, chunkSize: int(cfg.PartSize)}, nil
}

// PutStream uploads r under key. On a read error the upload context is
// cancelled so the partial upload is never committed.
func (s *GCSStore) PutStream(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.ChunkSize = s.chunkSize

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, storeWriteErr(key, err)
	}
	if err := w.Close(); err != nil {
		return 0, storeWriteErr(key, err)
	}
	return n, nil
}

// GetStream returns the object body.
func (s *GCSStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	rd, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return rd, nil
}

// Head returns object metadata.
func (s *GCSStore) Head(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("object attrs %q: %w", key, err)
	}
	return &domain.ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		LastModified: attrs.Updated,
		ContentType:  attrs.ContentType,
	}, nil
}

// Exists reports whether key is present.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if domain.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// List returns every object under prefix.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var out []domain.ObjectInfo
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, err)
		}
		out = append(out, domain.ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
			ContentType:  attrs.ContentType,
		})
	}
	return out, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
