package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
mysql:
  host: localhost
  port: 3306
  user: orbit
  password: secret
  database: orbit
redis:
  host: localhost
  port: 6379
presence:
  heartbeat_interval: 30s
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "orbit:secret@tcp(localhost:3306)/orbit?charset=utf8mb4&parseTime=True&loc=Local", cfg.MySQL.DSN())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 30*time.Second, cfg.Presence.HeartbeatInterval)

	t.Run("missing file fails", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, "utf8mb4", cfg.MySQL.Charset)
	assert.Equal(t, 100, cfg.MySQL.MaxOpenConns)
	assert.Equal(t, "orbit:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "chat-core", cfg.REST.TokenRole)
	assert.Equal(t, 168, cfg.REST.TokenTTLHours)
	assert.Equal(t, 30*time.Second, cfg.Feed.PongWait)
	assert.Equal(t, 27*time.Second, cfg.Feed.PingPeriod)
	assert.Equal(t, 60*time.Second, cfg.Presence.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Presence.GraceMargin)
	assert.Equal(t, 3, cfg.Sync.CreateRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.RetryBackoff)

	t.Run("explicit values are kept", func(t *testing.T) {
		cfg := Config{Feed: FeedConfig{PongWait: 10 * time.Second}}
		cfg.ApplyDefaults()
		assert.Equal(t, 10*time.Second, cfg.Feed.PongWait)
		assert.Equal(t, 9*time.Second, cfg.Feed.PingPeriod)
	})
}
