package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	// Reading the written file back yields the same values.
	again, _, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":9090\"\nmessage_lifetime: 2h\nsweep_workers: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("TREKCHAT_SWEEP_WORKERS", "8")
	t.Setenv("TREKCHAT_STORE_BACKEND", "redis")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 2*time.Hour, cfg.MessageLifetime)
	assert.Equal(t, 8, cfg.SweepWorkers)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_backend: etcd\n"), 0o600))

	_, _, err := Load(nil, path)
	assert.Error(t, err)
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1", SweepInterval: time.Minute})

	assert.Equal(t, ":1", cfg.Addr)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, Default().MessageLifetime, cfg.MessageLifetime)
}
