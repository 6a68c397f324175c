package app

import (
	"context"
	"fmt"
	"path/filepath"

	storage "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage"
	storageconfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/config"
	"github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/gcs"
	"github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/local"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// inputLocation resolves an input resource to a storage connection and the object
// inside it. Local paths get a connection rooted at the file's directory.
func (a *App) inputLocation(ctx context.Context, resource string) (storage.StorageExecutor, string, string, error) {
	loc := storage.ParseLocation(resource)
	switch loc.Scheme {
	case "":
		dir, file := filepath.Split(filepath.Clean(loc.Object))
		if dir == "" {
			dir = "."
		}
		store, err := local.NewLocalAdapter(storageconfig.StorageConfig{Type: local.ProviderType, BaseDir: dir})
		if err != nil {
			return nil, "", "", exception.NewConfigurationError(fmt.Sprintf("input '%s'", resource), err)
		}
		return store, "", file, nil
	case storage.SchemeGCS:
		store, err := a.gcsConnection(ctx)
		if err != nil {
			return nil, "", "", err
		}
		return store, loc.Bucket, loc.Object, nil
	default:
		return nil, "", "", exception.NewConfigurationError(fmt.Sprintf("input '%s': unsupported scheme '%s'", resource, loc.Scheme), nil)
	}
}

// outputStore returns the configured storage connection output writers upload to.
func (a *App) outputStore(ctx context.Context) (storage.StorageExecutor, error) {
	storageCfg := a.cfg.Lubatch.Infrastructure.Storage
	switch storageCfg.Type {
	case gcs.ProviderType:
		return a.gcsConnection(ctx)
	case local.ProviderType, "":
	default:
		return nil, exception.NewConfigurationError(fmt.Sprintf("unknown storage type '%s'", storageCfg.Type), nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}
	if storageCfg.BaseDir == "" {
		storageCfg.BaseDir = "."
	}
	store, err := local.NewLocalAdapter(storageCfg)
	if err != nil {
		return nil, exception.NewConfigurationError("failed to open local storage", err)
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	return store, nil
}

// gcsConnection opens the GCS client on first use.
func (a *App) gcsConnection(ctx context.Context) (storage.StorageConnection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gcs != nil {
		return a.gcs, nil
	}
	conn, err := gcs.NewGCSAdapter(ctx, a.cfg.Lubatch.Infrastructure.Storage)
	if err != nil {
		return nil, exception.NewConfigurationError("failed to open gcs storage", err)
	}
	a.gcs = conn
	a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
	return conn, nil
}
