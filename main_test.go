package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-cache-proxy/work/logger"
)

func TestReloadLogLevelAppliesConfig(t *testing.T) {
	previous := logger.GetLogLevel()
	t.Cleanup(func() { logger.SetLogLevel(previous) })

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logLevel": "ERROR"}`), 0644))

	assert.Equal(t, "ERROR", reloadLogLevel(path))
	assert.Equal(t, "ERROR", logger.GetLogLevel())

	require.NoError(t, os.WriteFile(path, []byte(`{"debug": true}`), 0644))
	assert.Equal(t, "DEBUG", reloadLogLevel(path))
}
