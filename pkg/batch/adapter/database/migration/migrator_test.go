package migration_test

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm"
	_ "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/migration"
)

func TestResources(t *testing.T) {
	for _, dbType := range []string{"sqlite", "sqlite3", "mysql", "postgres"} {
		dir, err := migration.Resources(dbType)
		require.NoError(t, err, dbType)
		entries, err := readNames(dir)
		require.NoError(t, err)
		assert.Contains(t, entries, "000001_create_batch_tables.up.sql", dbType)
		assert.Contains(t, entries, "000001_create_batch_tables.down.sql", dbType)
	}

	_, err := migration.Resources("oracle")
	assert.Error(t, err)
}

func TestMigrator_UpDownOnSQLite(t *testing.T) {
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "meta.db")}
	ctx := context.Background()

	m, err := migration.Open(cfg, "ERROR")
	require.NoError(t, err)

	_, _, ok, err := m.Version()
	require.NoError(t, err)
	assert.False(t, ok, "fresh database has no schema version")

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "re-applying an up-to-date schema is a no-op")

	version, dirty, ok, err := m.Version()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
	require.NoError(t, m.Close())

	db, err := gormadapter.Open(cfg, "ERROR")
	require.NoError(t, err)
	defer gormadapter.Close(db)
	for _, table := range []string{"batch_job_instance", "batch_job_execution", "batch_step_execution"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	m, err = migration.Open(cfg, "ERROR")
	require.NoError(t, err)
	require.NoError(t, m.Down(ctx))
	require.NoError(t, m.Close())
	assert.False(t, db.Migrator().HasTable("batch_job_execution"))
}

func TestMigrator_UnsupportedType(t *testing.T) {
	_, err := migration.NewMigrator(nil, "oracle")
	assert.Error(t, err)
}

func readNames(dir fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(dir, ".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
