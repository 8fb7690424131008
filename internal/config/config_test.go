package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, 0.80, cfg.Resolver.SimilarityThreshold)
	assert.Equal(t, 20, cfg.Resolver.MaxCandidates)

	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Worker.SleepInterval())

	assert.Equal(t, 600, cfg.Lock.MaxWaitSecs)
	assert.Equal(t, 300, cfg.Lock.StaleSecs)
	assert.Equal(t, 30, cfg.Lock.SweepSecs)
	assert.Equal(t, 2, cfg.Lock.PollSecs)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PRECOS_WORKER_BATCH_SIZE", "25")
	t.Setenv("PRECOS_STORE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Worker.BatchSize)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func TestInitLogger_Console(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
}
