// Package gcs provides a Google Cloud Storage implementation of the storage adapter interfaces.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage"
	storageConfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/config"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// ProviderType defines the type identifier for the GCS adapter.
const ProviderType = "gcs"

// GCSAdapter implements storage.StorageConnection over a GCS client.
type GCSAdapter struct {
	client *storage.Client
	cfg    storageConfig.StorageConfig
}

var _ storageAdapter.StorageConnection = (*GCSAdapter)(nil)

// NewGCSAdapter creates a GCS client. CredentialsFile, when set, selects a service account key;
// otherwise application default credentials apply. opts are appended to the client options.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, opts ...option.ClientOption) (*GCSAdapter, error) {
	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter: failed to create client: %w", err)
	}
	return &GCSAdapter{client: client, cfg: cfg}, nil
}

// Close closes the client.
func (a *GCSAdapter) Close() error {
	return a.client.Close()
}

// Type returns "gcs".
func (a *GCSAdapter) Type() string {
	return ProviderType
}

func (a *GCSAdapter) bucket(name string) (*storage.BucketHandle, error) {
	if name == "" {
		name = a.cfg.BucketName
	}
	if name == "" {
		return nil, errors.New("gcs storage adapter: no bucket given and no default bucket configured")
	}
	return a.client.Bucket(name), nil
}

// Upload streams data into bucket/objectName.
func (a *GCSAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	w := b.Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload gs://%s/%s: %w", bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload of gs://%s/%s: %w", bucket, objectName, err)
	}
	logger.Debugf("Uploaded gs://%s/%s.", bucket, objectName)
	return nil
}

// Download opens a reader on bucket/objectName. The caller closes it.
func (a *GCSAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	b, err := a.bucket(bucket)
	if err != nil {
		return nil, err
	}
	r, err := b.Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, objectName, err)
	}
	return r, nil
}

// ListObjects calls fn with the name of each object under prefix.
func (a *GCSAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	it := b.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

// DeleteObject deletes bucket/objectName. A missing object is not an error.
func (a *GCSAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	if err := b.Object(objectName).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete gs://%s/%s: %w", bucket, objectName, err)
	}
	return nil
}
