// Package sqlite registers the SQLite dialector with the GORM adapter.
package sqlite

import (
	"errors"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm"
)

func init() {
	factory := func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Path == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	}
	gormadapter.RegisterDialector("sqlite", factory)
	gormadapter.RegisterDialector("sqlite3", factory)
}

// ConnectionString generates the DSN for SQLite connections. A busy timeout lets parallel
// steps wait for the write lock instead of failing with "database is locked".
func ConnectionString(c dbconfig.DatabaseConfig) string {
	dsn := c.Path
	if c.Path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_foreign_keys=on"
}
