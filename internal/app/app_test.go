package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/trekchat/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "trekchat.db")
	cfg.ShutdownTimeout = time.Second
	return &cfg
}

func TestSweepOnceSQLite(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	a, err := New(ctx, testConfig(t), &logger)
	require.NoError(t, err)

	report, err := a.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, report.Failures)
}

func TestNewWithRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := zerolog.Nop()
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.StoreBackend = config.BackendRedis
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := New(ctx, cfg, &logger)
	require.NoError(t, err)

	_, err = a.SweepOnce(ctx)
	require.NoError(t, err)
}

func TestNewRedisUnreachable(t *testing.T) {
	logger := zerolog.Nop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := testConfig(t)
	cfg.StoreBackend = config.BackendRedis
	cfg.RedisURL = "redis://127.0.0.1:1"

	_, err := New(ctx, cfg, &logger)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())

	a, err := New(ctx, testConfig(t), &logger)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
