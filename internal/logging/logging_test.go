package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vecbench.log")
	require.NoError(t, Init("debug", path, false))

	assert.Equal(t, logrus.DebugLevel, Get().GetLevel())

	WithFields(logrus.Fields{"policy": "private", "bytes": 1024}).Info("Copy completed")
	Debugf("groups=%d", 4)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Copy completed")
	assert.Contains(t, string(data), "policy=private")
	assert.Contains(t, string(data), "groups=4")
}

func TestInitUnknownLevel(t *testing.T) {
	require.NoError(t, Init("chatty", "", false))
	assert.Equal(t, logrus.InfoLevel, Get().GetLevel())
}

func TestInitLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecbench.log")
	require.NoError(t, Init("warn", path, false))

	Info("hidden")
	Warnf("shown %s", "here")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown here")
}
