package reader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageConfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/config"
	"github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/local"
	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/component/step/reader"
)

func newSource(t *testing.T, content string, cfg reader.FlatFileSourceConfig) *reader.FlatFileSource {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log.txt"), []byte(content), 0o644))
	store, err := local.NewLocalAdapter(storageConfig.StorageConfig{BaseDir: dir})
	require.NoError(t, err)
	cfg.Object = "log.txt"
	src, err := reader.NewFlatFileSource("users", store, cfg)
	require.NoError(t, err)
	return src
}

func drain(t *testing.T, src *reader.FlatFileSource) []model.RawRecord {
	t.Helper()
	var out []model.RawRecord
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, port.ErrEndOfData) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestFlatFileSource_ReadsRecords(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, "firstName,lastName\r\nJane,Doe\n\n# note\nJohn,Smith\n", reader.FlatFileSourceConfig{
		LinesToSkip: 1,
		Comments:    []string{"#"},
	})
	require.NoError(t, src.Open(ctx, 0))
	defer src.Close(ctx)

	assert.Equal(t, []model.RawRecord{
		{Offset: 0, Line: "Jane,Doe"},
		{Offset: 1, Line: "John,Smith"},
	}, drain(t, src))

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, port.ErrEndOfData)
}

func TestFlatFileSource_OpenAtOffset(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, "a\nb\n\nc\nd\n", reader.FlatFileSourceConfig{})

	require.NoError(t, src.Open(ctx, 2))
	assert.Equal(t, []model.RawRecord{{Offset: 2, Line: "c"}, {Offset: 3, Line: "d"}}, drain(t, src))
	require.NoError(t, src.Close(ctx))

	// Reopening restarts from the new offset.
	require.NoError(t, src.Open(ctx, 4))
	assert.Empty(t, drain(t, src))
	require.NoError(t, src.Close(ctx))

	err := src.Open(ctx, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beyond")
}

func TestFlatFileSource_KeepBlankLines(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, "a\n\nb\n", reader.FlatFileSourceConfig{KeepBlankLines: true})
	require.NoError(t, src.Open(ctx, 0))
	defer src.Close(ctx)
	assert.Len(t, drain(t, src), 3)
}

func TestFlatFileSource_Errors(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, "a\n", reader.FlatFileSourceConfig{})
	_, err := src.Next(ctx)
	assert.Error(t, err, "next before open")
	assert.NoError(t, src.Close(ctx), "closing an unopened source")

	store, err := local.NewLocalAdapter(storageConfig.StorageConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)
	missing, err := reader.NewFlatFileSource("missing", store, reader.FlatFileSourceConfig{Object: "absent.txt"})
	require.NoError(t, err)
	assert.Error(t, missing.Open(ctx, 0))

	_, err = reader.NewFlatFileSource("bad", store, reader.FlatFileSourceConfig{})
	assert.Error(t, err)
	_, err = reader.NewFlatFileSource("bad", nil, reader.FlatFileSourceConfig{Object: "x"})
	assert.Error(t, err)
}
