package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volume-farm/internal/config"
)

func TestNewLogger_WritesDebugToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "out.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:    "info",
		Encoding: "console",
		File:     path,
	})
	require.NoError(t, err)

	logger.Debug("仅写入文件")
	logger.Info("同时写入控制台")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "仅写入文件")
	assert.Contains(t, string(data), "同时写入控制台")
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud", Encoding: "console"})
	require.Error(t, err)

	_, err = NewLogger(config.LoggingConfig{Level: "info", Encoding: "console", File: filepath.Join(t.TempDir(), "x.log"), FileLevel: "loud"})
	require.Error(t, err)
}
