package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("NOTIFY_JWT_SECRET", "s3cret")

	cfg, err := load(viper.New(), []string{t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.JWT.TicketTTL)
	assert.Equal(t, 10*time.Minute, cfg.Detectors.PerformanceWindow)
	assert.Equal(t, 120*time.Second, cfg.Detectors.LatencyThreshold)
	assert.Equal(t, 85.0, cfg.Detectors.MemoryHighPercent)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	yml := `
server:
  port: 9000
database:
  driver: sqlite
  dsn: ":memory:"
jwt:
  secret: from-file
redis:
  url: redis://localhost:6379/0
detectors:
  latency_threshold: 90s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o600))
	t.Setenv("NOTIFY_SERVER_PORT", "9100")
	t.Setenv("NOTIFY_RATE_LIMIT_BURST", "7")

	cfg, err := load(viper.New(), []string{dir})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 90*time.Second, cfg.Detectors.LatencyThreshold)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("NOTIFY_JWT_SECRET", "x")
	t.Setenv("NOTIFY_DATABASE_DRIVER", "mysql")

	_, err := load(viper.New(), []string{t.TempDir()})
	assert.Error(t, err)
}
