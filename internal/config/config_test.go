package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RAETSEL_CONFIG", "PORT", "RAETSEL_API_ADDR", "RAETSEL_ENV", "LOG_LEVEL",
		"RAETSEL_STORE", "UPSTASH_REDIS_REST_URL", "UPSTASH_REDIS_REST_TOKEN", "REDIS_URL",
		"DATABASE_URL", "RAETSEL_DB_MAX_CONNS", "RAETSEL_SQLITE_PATH", "RAETSEL_STORE_TIMEOUT",
		"RAETSEL_WEEK_TIMEZONE", "RAETSEL_SPECIAL_NAMESPACE", "RAETSEL_NAMESPACES",
		"RAETSEL_SERIALIZE_PER_USER", "RAETSEL_STATS_TICK_EVERY", "RAETSEL_WORKER_METRICS_ADDR",
		"RTL_API_BASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestUpstashRequiresCredentials(t *testing.T) {
	clearEnv(t)
	_, err := LoadAPIFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTASH_REDIS_REST_URL")

	t.Setenv("UPSTASH_REDIS_REST_URL", "https://eu1-example.upstash.io/")
	t.Setenv("UPSTASH_REDIS_REST_TOKEN", "tok")
	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoreUpstash, cfg.Store.Backend)
	assert.Equal(t, "https://eu1-example.upstash.io", cfg.Store.UpstashURL)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "Europe/Berlin", cfg.WeekZone)
	assert.Equal(t, []string{"classic", "history"}, cfg.Namespaces)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAETSEL_STORE", "Memory")
	t.Setenv("PORT", "9000")
	t.Setenv("RAETSEL_STORE_TIMEOUT", "750ms")
	t.Setenv("RAETSEL_NAMESPACES", " Classic, history ,mini,")
	t.Setenv("RAETSEL_SERIALIZE_PER_USER", "true")
	t.Setenv("RAETSEL_STATS_TICK_EVERY", "not-a-duration")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 750*time.Millisecond, cfg.Store.Timeout)
	assert.Equal(t, []string{"classic", "history", "mini"}, cfg.Namespaces)
	assert.True(t, cfg.SerializePerUser)
	assert.Equal(t, time.Minute, cfg.StatsTickEvery)
}

func TestYAMLOverlayBelowEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "raetsel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":7070"
store:
  backend: sqlite
  sqlite_path: /var/lib/raetsel/kv.db
  timeout: 5s
week_zone: Europe/Vienna
namespaces: [classic, history, kids]
stats_tick_every: 30s
`), 0o600))
	t.Setenv("RAETSEL_CONFIG", path)
	t.Setenv("RAETSEL_WEEK_TIMEZONE", "Europe/Berlin")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/raetsel/kv.db", cfg.Store.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "Europe/Berlin", cfg.WeekZone)
	assert.Equal(t, []string{"classic", "history", "kids"}, cfg.Namespaces)
	assert.Equal(t, 30*time.Second, cfg.StatsTickEvery)
}

func TestYAMLRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "raetsel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stroe:\n  backend: memory\n"), 0o600))
	t.Setenv("RAETSEL_CONFIG", path)
	_, err := LoadAPIFromEnv()
	require.Error(t, err)
}

func TestBackendRequirements(t *testing.T) {
	for backend, want := range map[string]string{
		"redis":    "REDIS_URL",
		"postgres": "DATABASE_URL",
		"etcd":     "unknown store backend",
	} {
		clearEnv(t)
		t.Setenv("RAETSEL_STORE", backend)
		_, err := LoadAPIFromEnv()
		require.Error(t, err, backend)
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadCLIFromEnv(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, "http://localhost:8080", LoadCLIFromEnv().APIBaseURL)
	t.Setenv("RTL_API_BASE_URL", "https://raetsel.example/")
	assert.Equal(t, "https://raetsel.example", LoadCLIFromEnv().APIBaseURL)
}
