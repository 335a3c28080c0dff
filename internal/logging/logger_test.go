package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "", "bogus"} {
		logger, err := NewLogger(lvl, "json", "")
		require.NoError(t, err, "level %q", lvl)
		require.NotNil(t, logger)
	}
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	logger, err := NewLogger("info", "console", "")
	require.NoError(t, err)
	logger.Info("hello")
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facegate.log")
	logger, err := NewLogger("info", "json", path)
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNewLoggerFileOpenError(t *testing.T) {
	_, err := NewLogger("info", "json", filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}

func TestForComponentNilBase(t *testing.T) {
	assert.NotNil(t, ForComponent(nil, "scanner"))
}
