package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 60*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 4, cfg.AccountingWorkers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("UPSTREAM_TIMEOUT", "90s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "sk-test", cfg.DeepSeekAPIKey)
	assert.Equal(t, 90*time.Second, cfg.UpstreamTimeout)
}

func TestLoad_RejectsBadTimeout(t *testing.T) {
	t.Setenv("UPSTREAM_TIMEOUT", "soon")

	_, err := config.Load()
	require.Error(t, err)
}
