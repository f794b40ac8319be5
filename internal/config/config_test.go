package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8003, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Presence.TTL)
	assert.Equal(t, 100, cfg.OfflineQueue.MaxLength)
	assert.Equal(t, BridgeTransportRedis, cfg.Bridge.Transport)
	assert.Equal(t, DirectorySourceHTTP, cfg.Directory.Source)
}

func TestLoad_YAMLThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := `
server:
  port: 9100
presence:
  ttl: 90s
  typing_ttl: 5s
  refresh_interval: 30s
offline_queue:
  max_length: 3
  max_age: 1h
bridge:
  transport: NATS
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	t.Setenv("PORT", "9200")
	t.Setenv("NATS_URL", "nats://bus:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Presence.TTL)
	assert.Equal(t, 5*time.Second, cfg.Presence.TypingTTL)
	assert.Equal(t, 3, cfg.OfflineQueue.MaxLength)
	assert.Equal(t, time.Hour, cfg.OfflineQueue.MaxAge)
	assert.Equal(t, BridgeTransportNATS, cfg.Bridge.Transport)
	assert.Equal(t, "nats://bus:4222", cfg.Bridge.NATSURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "refresh not shorter than ttl", mutate: func(c *Config) { c.Presence.RefreshInterval = c.Presence.TTL }, wantErr: true},
		{name: "zero queue length", mutate: func(c *Config) { c.OfflineQueue.MaxLength = 0 }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Bridge.Transport = "kafka" }, wantErr: true},
		{name: "database directory without url", mutate: func(c *Config) { c.Directory.Source = DirectorySourceDatabase }, wantErr: true},
		{name: "database directory with url", mutate: func(c *Config) {
			c.Directory.Source = DirectorySourceDatabase
			c.Directory.DatabaseURL = "postgres://localhost/users"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
