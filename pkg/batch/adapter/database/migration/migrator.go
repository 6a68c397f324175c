// Package migration applies the job metadata schema with golang-migrate.
// The SQL files for each dialect are embedded under resource/<dialect>.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbconfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// MigrationsTable tracks the applied schema version.
const MigrationsTable = "batch_framework_migrations"

//go:embed resource
var resources embed.FS

// Migrator applies the embedded schema to one database.
type Migrator struct {
	dbType   string
	instance *migrate.Migrate
}

// Dialect maps a configured database type to its resource directory.
func Dialect(dbType string) (string, error) {
	switch dbType {
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "mysql":
		return "mysql", nil
	case "postgres", "postgresql":
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported database type for migration: %s", dbType)
}

// Resources returns the migration files for dbType.
func Resources(dbType string) (fs.FS, error) {
	dialect, err := Dialect(dbType)
	if err != nil {
		return nil, err
	}
	return fs.Sub(resources, "resource/"+dialect)
}

// Open connects to dbConfig and returns a Migrator owning that connection.
func Open(dbConfig dbconfig.DatabaseConfig, logLevel string) (*Migrator, error) {
	db, err := gormadapter.Open(dbConfig, logLevel)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	m, err := NewMigrator(sqlDB, dbConfig.Type)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}

// NewMigrator creates a Migrator for sqlDB. Close closes sqlDB, so callers pass a
// connection dedicated to the migration.
func NewMigrator(sqlDB *sql.DB, dbType string) (*Migrator, error) {
	dir, err := Resources(dbType)
	if err != nil {
		return nil, err
	}
	sourceDriver, err := iofs.New(dir, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	dbDriver, err := databaseDriver(sqlDB, dbType)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	instance, err := migrate.NewWithInstance("iofs", sourceDriver, dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	instance.Log = migrateLogger{}
	return &Migrator{dbType: dbType, instance: instance}, nil
}

func databaseDriver(sqlDB *sql.DB, dbType string) (database.Driver, error) {
	dialect, err := Dialect(dbType)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: MigrationsTable})
	default:
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: MigrationsTable})
	}
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.instance.Up)
}

// Down reverts all applied migrations.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", m.instance.Down)
}

// Version returns the applied schema version. ok is false on an empty database.
func (m *Migrator) Version() (version uint, dirty bool, ok bool, err error) {
	version, dirty, err = m.instance.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return version, dirty, true, nil
}

// Close releases the source and the database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.instance.Close()
	return errors.Join(srcErr, dbErr)
}

func (m *Migrator) run(ctx context.Context, command string, fn func() error) error {
	logger.Infof("Executing migration '%s' (DB: %s, Table: %s)", command, m.dbType, MigrationsTable)

	// migrate has no context support; a cancelled ctx stops it between migrations.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.instance.GracefulStop <- true
		case <-done:
		}
	}()

	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed for command '%s' (DB: %s): %w", command, m.dbType, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

// migrateLogger routes golang-migrate output to the batch logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	logger.Debugf("[migrate] %s", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (migrateLogger) Verbose() bool {
	return true
}
