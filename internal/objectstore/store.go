// Package objectstore implements domain.ObjectStore on S3, MinIO, GCS, Azure
// Blob Storage, the local filesystem, and memory.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"duck-flight/internal/domain"
)

// Backend names accepted by Open.
const (
	BackendS3         = "s3"
	BackendMinIO      = "minio"
	BackendGCS        = "gcs"
	BackendAzure      = "azure"
	BackendFilesystem = "filesystem"
	BackendMemory     = "memory"
)

// DefaultPartSize is the multipart chunk size used when none is configured.
const DefaultPartSize = 8 << 20

// minPartSize is the smallest part S3 accepts for all but the last part.
const minPartSize = 5 << 20

// Config selects and configures a backend. Bucket is the S3/MinIO/GCS
// bucket or the Azure container.
type Config struct {
	Backend   string
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
	PartSize  int64

	GCSCredentialsFile string
	AzureAccountName   string
	AzureAccountKey    string
	FilesystemRoot     string
}

// Open builds the store described by cfg.
func Open(ctx context.Context, cfg Config) (domain.ObjectStore, error) {
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	switch cfg.Backend {
	case BackendS3:
		return NewS3Store(cfg)
	case BackendMinIO, "":
		return NewMinIOStore(ctx, cfg)
	case BackendGCS:
		return NewGCSStore(ctx, cfg)
	case BackendAzure:
		return NewAzureStore(cfg)
	case BackendFilesystem:
		return NewFilesystemStore(cfg.FilesystemRoot)
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown object store backend %q", cfg.Backend)
}

// Keys derives result object keys. Every process configured with the same
// prefix predicts the same key for a fingerprint and format.
type Keys struct {
	Prefix string
}

// For returns the key of the result of fingerprint encoded as format.
func (k Keys) For(fingerprint string, format domain.ResultFormat) string {
	name := fingerprint + "." + format.Extension()
	prefix := strings.Trim(k.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func notFound(key string) error {
	return domain.ErrNotFound("object %q not found", key)
}

func storeWriteErr(key string, err error) error {
	return &domain.StoreWriteError{Key: key, Err: err}
}
