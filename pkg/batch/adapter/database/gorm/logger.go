package gorm

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// NewGormLogger creates a gorm logger that writes through the lubatch logger.
// At DEBUG every statement is traced; otherwise only slow queries and errors are reported.
func NewGormLogger(level string) gormlogger.Interface {
	gormLevel := gormlogger.Warn
	if lvl, ok := logger.ParseLevel(level); ok {
		switch lvl {
		case logger.LevelDebug:
			gormLevel = gormlogger.Info
		case logger.LevelError, logger.LevelFatal:
			gormLevel = gormlogger.Error
		}
	}
	return gormlogger.New(
		NewGormWriter(),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM log output to the lubatch logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Printf implements gormlogger.Writer.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	switch {
	case strings.Contains(msg, "SLOW SQL"):
		logger.Warnf("[GORM] %s", msg)
	case strings.Contains(msg, "Error") || strings.Contains(msg, "error"):
		logger.Errorf("[GORM] %s", msg)
	default:
		// Statement traces look like "[1.2ms] [rows:1] SELECT ...".
		logger.Debugf("[GORM] %s", msg)
	}
}
