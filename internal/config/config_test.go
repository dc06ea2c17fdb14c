package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"econfair/internal/docstore"
)

func TestLoadAPIFromEnvDevMode(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ECONFAIR_AUTH_MODE", "dev")
	t.Setenv("ECONFAIR_STORE", "sqlite")
	t.Setenv("ECONFAIR_SQLITE_PATH", "/tmp/fair.db")
	t.Setenv("ECONFAIR_SWEEP_EVERY", "250ms")
	t.Setenv("ECONFAIR_LOG_LEVEL", "debug")
	t.Setenv("ECONFAIR_TX_MAX_ATTEMPTS", "not-a-number")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, AuthDev, cfg.AuthMode)
	assert.Equal(t, docstore.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/fair.db", cfg.Store.Options().SQLitePath)
	assert.Equal(t, 250*time.Millisecond, cfg.SweepEvery)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 8, cfg.TxMaxAttempts)
}

func TestLoadAPIFromEnvRequiresProviderSettings(t *testing.T) {
	t.Setenv("ECONFAIR_AUTH_MODE", "")
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	_, err := LoadAPIFromEnv()
	require.Error(t, err)

	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://example.supabase.co", cfg.SupabaseURL)

	t.Setenv("DISCORD_BOT_TOKEN", "token-only")
	_, err = LoadAPIFromEnv()
	require.Error(t, err)
}

func TestLoadAPIFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("ECONFAIR_AUTH_MODE", "magic")
	_, err := LoadAPIFromEnv()
	require.Error(t, err)

	t.Setenv("ECONFAIR_AUTH_MODE", "dev")
	t.Setenv("ECONFAIR_STORE", "cassandra")
	_, err = LoadAPIFromEnv()
	require.Error(t, err)

	t.Setenv("ECONFAIR_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err = LoadAPIFromEnv()
	require.Error(t, err)
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("ECONFAIR_STORE", "memory")
	_, err := LoadWorkerFromEnv()
	require.Error(t, err)

	t.Setenv("ECONFAIR_STORE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ECONFAIR_WORKER_RUN_ONCE", "true")
	cfg, err := LoadWorkerFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, "cache:6379", cfg.Store.Options().Redis.Addr)
	assert.Equal(t, 3, cfg.Store.RedisDB)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FAIRCTL_API_BASE_URL=http://fair.local:9000/\n"), 0o600))

	t.Setenv("FAIRCTL_API_BASE_URL", "")
	os.Unsetenv("FAIRCTL_API_BASE_URL")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "http://fair.local:9000", LoadCLIFromEnv().APIBaseURL)

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
