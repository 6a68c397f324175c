// Package storage defines the common interfaces for the storage adapters input files
// and exported part files go through. Implementations live in local and gcs.
package storage

import (
	"context"
	"io"
	"strings"
)

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload uploads data to the specified bucket and object name.
	// 'data' is the stream of data to upload. 'contentType' is the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download downloads data from the specified bucket and object name.
	// It returns a ReadCloser which must be closed by the caller after use.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix in bucket.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes the specified object. A missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is an open storage backend.
type StorageConnection interface {
	StorageExecutor

	// Close releases the connection.
	Close() error
	// Type returns the backend type ("local" or "gcs").
	Type() string
}

// SchemeGCS is the URI scheme of Google Cloud Storage objects.
const SchemeGCS = "gs"

// Location addresses one object. Scheme is empty for local paths.
type Location struct {
	Scheme string
	Bucket string
	Object string
}

// ParseLocation splits "gs://bucket/path/to/object" into its parts.
// Anything without a scheme is a local path and is returned as Object.
func ParseLocation(uri string) Location {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Location{Object: uri}
	}
	bucket, object, _ := strings.Cut(rest, "/")
	return Location{Scheme: scheme, Bucket: bucket, Object: object}
}

// String renders l back into URI form.
func (l Location) String() string {
	if l.Scheme == "" {
		return l.Object
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Object
}
