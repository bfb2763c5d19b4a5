package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"duck-flight/internal/domain"
)

var _ domain.ObjectStore = (*AzureStore)(nil)

// AzureStore stores objects as block blobs in one container. UploadStream
// stages blocks and commits the block list last, so readers never see a
// partial blob.
type AzureStore struct {
	client    *azblob.Client
	container string
	blockSize int64
}

// NewAzureStore creates an AzureStore with shared-key credentials. Endpoint
// overrides the service URL, e.g. for Azurite.
func NewAzureStore(cfg Config) (*AzureStore, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("azure account name, account key and container are required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}

	serviceURL := cfg.Endpoint
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureStore{client: client, container: cfg.Bucket, blockSize: cfg.PartSize}, nil
}

// PutStream uploads r under key.
func (s *AzureStore) PutStream(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	counter := &countingReader{r: r}
	_, err := s.client.UploadStream(ctx, s.container, key, counter, &azblob.UploadStreamOptions{
		BlockSize:   s.blockSize,
		Concurrency: 2,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		return 0, storeWriteErr(key, err)
	}
	return counter.n, nil
}

// GetStream returns the blob body.
func (s *AzureStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		return nil, s.mapErr(key, err)
	}
	return resp.Body, nil
}

// Head returns blob metadata.
func (s *AzureStore) Head(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	props, err := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return nil, s.mapErr(key, err)
	}
	info := &domain.ObjectInfo{Key: key}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	if props.ContentType != nil {
		info.ContentType = *props.ContentType
	}
	return info, nil
}

// Exists reports whether key is present.
func (s *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if domain.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// List returns every blob under prefix.
func (s *AzureStore) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var out []domain.ObjectInfo
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs %q: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := domain.ObjectInfo{Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.LastModified = *p.LastModified
				}
				if p.ContentType != nil {
					info.ContentType = *p.ContentType
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *AzureStore) mapErr(key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound) {
		return notFound(key)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return notFound(key)
	}
	return fmt.Errorf("blob %q: %w", key, err)
}
