package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test where no .env file exists
func inTempDir(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_DefaultValues(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, FeedLocal, cfg.ChangeFeed.Mode)
	assert.Equal(t, "docstore:changes", cfg.ChangeFeed.Stream)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 8, cfg.Resolver.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, "admin", cfg.Admin.DefaultActor)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	inTempDir(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("CHANGEFEED_MODE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("RESOLVER_CONCURRENCY", "3")
	t.Setenv("SESSION_IDLE_TTL", "90")
	t.Setenv("STORE_POLL_INTERVAL", "15s")
	t.Setenv("ADMIN_DEFAULT_ACTOR", "ops@irepair")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, FeedRedis, cfg.ChangeFeed.Mode)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Resolver.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTTL)
	assert.Equal(t, 15*time.Second, cfg.Store.PollInterval)
	assert.Equal(t, "ops@irepair", cfg.Admin.DefaultActor)
}

func TestLoad_DotEnvFile(t *testing.T) {
	inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(".", ".env"), []byte("LOG_LEVEL=debug\nSTORE_SEED_FILE=seed.json\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("STORE_SEED_FILE")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "seed.json", cfg.Store.SeedFile)
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	inTempDir(t)

	t.Setenv("STORE_BACKEND", "mongo")
	_, err := Load()
	assert.ErrorContains(t, err, "STORE_BACKEND")

	t.Setenv("STORE_BACKEND", "firestore")
	_, err = Load()
	assert.ErrorContains(t, err, "FIRESTORE_PROJECT_ID")

	t.Setenv("FIRESTORE_PROJECT_ID", "irepair-prod")
	t.Setenv("CHANGEFEED_MODE", "kafka")
	_, err = Load()
	assert.ErrorContains(t, err, "CHANGEFEED_MODE")

	t.Setenv("CHANGEFEED_MODE", "mqtt")
	t.Setenv("RESOLVER_CONCURRENCY", "0")
	_, err = Load()
	assert.ErrorContains(t, err, "RESOLVER_CONCURRENCY")
}
