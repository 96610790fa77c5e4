package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sql", cfg.Persistence.Driver)
	assert.Equal(t, 1000, cfg.Dispatcher.LogCapacity)
	assert.Equal(t, 100, cfg.Dispatcher.SnapshotSize)
	assert.Equal(t, 1000, cfg.Dispatcher.RetryBaseMs)
	assert.Equal(t, 10, cfg.Gateway.TestMaxTokens)
	assert.True(t, cfg.Instrumentation.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("PERSISTENCE_DRIVER", "redis")
	t.Setenv("DISPATCHER_RETRY_BASE_MS", "250")
	t.Setenv("SECRET_KEY", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Persistence.Driver)
	assert.Equal(t, 250, cfg.Dispatcher.RetryBaseMs)
	assert.Equal(t, "s3cret", cfg.SecretKey)
}

func TestDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/data", Name: "automation"}
	assert.True(t, sqlite.IsSQLite())
	assert.Equal(t, "/tmp/data/automation.db", sqlite.DSN())
	assert.Equal(t, "file::memory:?cache=shared", DatabaseConfig{Driver: "sqlite", Name: ":memory:"}.DSN())

	pg := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "automation"}
	assert.False(t, pg.IsSQLite())
	assert.Equal(t, "postgres://u:p@db:5432/automation?sslmode=disable", pg.DSN())
}
