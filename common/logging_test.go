package common

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	log := SetupLogger(&LoggingOpts{Debug: true, JSON: true, Service: "kme", Version: "test"})
	require.NotNil(t, log)
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))

	log = SetupLogger(&LoggingOpts{})
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
}

func TestGetEnv(t *testing.T) {
	t.Setenv("KME_TEST_GETENV", "set")
	assert.Equal(t, "set", GetEnv("KME_TEST_GETENV", "default"))
	assert.Equal(t, "default", GetEnv("KME_TEST_GETENV_MISSING", "default"))
}
