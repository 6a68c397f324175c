package gcs_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	storageConfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/config"
	"github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/gcs"
)

func TestGCSAdapter_RequiresBucket(t *testing.T) {
	ctx := context.Background()
	a, err := gcs.NewGCSAdapter(ctx, storageConfig.StorageConfig{Type: "gcs"}, option.WithoutAuthentication())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "gcs", a.Type())

	err = a.Upload(ctx, "", "obj", strings.NewReader("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bucket given")

	_, err = a.Download(ctx, "", "obj")
	assert.Error(t, err)
	assert.Error(t, a.DeleteObject(ctx, "", "obj"))
	assert.Error(t, a.ListObjects(ctx, "", "", func(string) error { return nil }))
}

func TestNewGCSAdapter_MissingCredentialsFile(t *testing.T) {
	_, err := gcs.NewGCSAdapter(context.Background(), storageConfig.StorageConfig{
		Type:            "gcs",
		CredentialsFile: "/nonexistent/key.json",
	})
	assert.Error(t, err)
}
