package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appprecos/enrich-cli/internal/config"
)

func TestLockConfig_Conversion(t *testing.T) {
	c := lockConfig(config.LockConfig{
		PollSecs:     2,
		SettleMillis: 1500,
		JitterMillis: 500,
		MaxWaitSecs:  600,
		StaleSecs:    300,
		SweepSecs:    30,
	})

	assert.Equal(t, 2*time.Second, c.PollInterval)
	assert.Equal(t, 1500*time.Millisecond, c.SettleDelay)
	assert.Equal(t, 500*time.Millisecond, c.Jitter)
	assert.Equal(t, 600*time.Second, c.MaxWait)
	assert.Equal(t, 300*time.Second, c.StaleTimeout)
	assert.Equal(t, 30*time.Second, c.SweepInterval)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "oracle"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitStore_SQLiteDefaultPath(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: t.TempDir() + "/test.db",
	}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close()
}

func TestInitResolver_NoTokensNoKey(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: t.TempDir() + "/test.db",
	}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close()

	// Without credentials the resolver still builds; the credentialed
	// waterfall steps are simply skipped at resolve time.
	res, err := initResolver(st)
	require.NoError(t, err)
	assert.NotNil(t, res)
}
