// Package local provides a local file system implementation of the storage adapter interfaces.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storageAdapter "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage"
	storageConfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/config"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// ProviderType defines the type identifier for the local storage adapter.
const ProviderType = "local"

// LocalAdapter stores objects as files below BaseDir. A bucket is a subdirectory.
type LocalAdapter struct {
	cfg storageConfig.StorageConfig
}

var _ storageAdapter.StorageConnection = (*LocalAdapter)(nil)

// NewLocalAdapter creates a LocalAdapter, creating BaseDir if it does not exist.
func NewLocalAdapter(cfg storageConfig.StorageConfig) (*LocalAdapter, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage adapter: BaseDir must be specified in configuration")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
			return nil, fmt.Errorf("local storage adapter: failed to create BaseDir '%s': %w", cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage adapter: failed to stat BaseDir '%s': %w", cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage adapter: BaseDir '%s' is not a directory", cfg.BaseDir)
	}
	return &LocalAdapter{cfg: cfg}, nil
}

// Close does nothing; the adapter holds no resources.
func (a *LocalAdapter) Close() error {
	return nil
}

// Type returns "local".
func (a *LocalAdapter) Type() string {
	return ProviderType
}

// Upload writes data to BaseDir/bucket/objectName, creating directories as needed.
func (a *LocalAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	// Write to a temporary file first so readers never see a partial object.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file in '%s': %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move upload into '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded data to '%s' (local adapter).", fullPath)
	return nil
}

// Download opens BaseDir/bucket/objectName. The caller closes the returned reader.
func (a *LocalAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}
	return file, nil
}

// ListObjects walks the bucket directory and calls fn with each object name matching prefix,
// in lexical order.
func (a *LocalAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := a.resolvePath(bucket, "")
	if err != nil {
		return fmt.Errorf("failed to resolve base path for listing: %w", err)
	}

	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == basePath {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		objectName, err := filepath.Rel(basePath, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for '%s' from '%s': %w", path, basePath, err)
		}
		objectName = filepath.ToSlash(objectName)
		if !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list objects in '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

// DeleteObject removes BaseDir/bucket/objectName. A missing file is not an error.
func (a *LocalAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("Object '%s' already absent (local adapter).", fullPath)
			return nil
		}
		return fmt.Errorf("failed to delete file '%s': %w", fullPath, err)
	}
	logger.Debugf("Deleted object '%s' (local adapter).", fullPath)
	return nil
}

// resolvePath joins BaseDir, bucket and objectName, and rejects paths that escape BaseDir.
func (a *LocalAdapter) resolvePath(bucket, objectName string) (string, error) {
	baseDir := a.cfg.BaseDir
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	fullPath := filepath.Join(baseDir, bucket, objectName)

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for BaseDir '%s': %w", baseDir, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}
	if absFullPath != absBaseDir && !strings.HasPrefix(absFullPath, absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("resolved path '%s' is outside of BaseDir '%s'", fullPath, baseDir)
	}
	return fullPath, nil
}
