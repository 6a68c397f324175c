package logger_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLogLevel("INFO")
	})

	logger.SetLogLevel("warn")
	assert.Equal(t, logger.LevelWarn, logger.GetLogLevel())

	logger.Debugf("debug %d", 1)
	logger.Infof("info %d", 2)
	logger.Warnf("warn %d", 3)
	logger.Errorf("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "[WARN] warn 3")
	assert.Contains(t, out, "[ERROR] error 4")
}

func TestParseLevel(t *testing.T) {
	lvl, ok := logger.ParseLevel("Debug")
	assert.True(t, ok)
	assert.Equal(t, logger.LevelDebug, lvl)

	lvl, ok = logger.ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, logger.LevelInfo, lvl)
	assert.Equal(t, "INFO", lvl.String())
}
