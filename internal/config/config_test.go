package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_STORE", "")
	t.Setenv("LEDGER_MAX_RETRIES", "")
	t.Setenv("HISTORY_MAX_LIMIT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Ledger.Store)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
	assert.Equal(t, 500, cfg.Ledger.HistoryMaxLimit)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, "stock:movements", cfg.Feed.Channel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_STORE", "MEMORY")
	t.Setenv("LEDGER_MAX_RETRIES", "7")
	t.Setenv("LEDGER_LOCK_TIMEOUT", "750ms")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("DB_AUTO_MIGRATE", "no-es-bool")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Ledger.Store)
	assert.Equal(t, 7, cfg.Ledger.MaxRetries)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.LockTimeout)
	assert.False(t, cfg.Redis.Enabled)
	// valor inválido cae al default
	assert.True(t, cfg.Database.AutoMigrate)
}
