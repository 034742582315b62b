package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "unknown store type",
			mutate:  func(c *Config) { c.Store.Type = "dynamo" },
			wantErr: true,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store.Type = "postgres" },
			wantErr: true,
		},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Store.Type = "postgres"
				c.Store.Postgres.DSN = "postgres://localhost/phasetrack"
			},
			wantErr: false,
		},
		{
			name:    "push mode without url",
			mutate:  func(c *Config) { c.Monitoring.Mode = "push" },
			wantErr: true,
		},
		{
			name: "push mode with url",
			mutate: func(c *Config) {
				c.Monitoring.Mode = "push"
				c.Monitoring.RemoteWriteURL = "http://vm:8428"
			},
			wantErr: false,
		},
		{
			name:    "relay enabled without url",
			mutate:  func(c *Config) { c.Relay.Enabled = true },
			wantErr: true,
		},
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

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "scrape", cfg.Monitoring.Mode)
	assert.Equal(t, "phasetrack", cfg.Monitoring.MetricsPrefix)
	assert.Equal(t, "phasetrack", cfg.Monitoring.JobName)
	assert.Equal(t, "0 * * * *", cfg.SLA.Schedule)
	assert.Equal(t, 72*time.Hour, cfg.SLA.MaxAge)
	assert.Equal(t, "phasetrack.event", cfg.Relay.SubjectPrefix)
}

func TestLoad(t *testing.T) {
	content := `server:
  listen_addr: ":9000"
store:
  type: redis
  redis:
    addr: redis.internal:6379
    db: 2
    lock_ttl: 5s
monitoring:
  mode: push
  remote_write_url: http://vm:8428
  instance: tracker-1
sla:
  enabled: true
  schedule: "*/15 * * * *"
  max_age: 48h
relay:
  enabled: true
  url: nats://nats.internal:4222
logging:
  level: debug
  format: text
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 5*time.Second, cfg.Store.Redis.LockTTL)
	assert.Equal(t, "push", cfg.Monitoring.Mode)
	assert.Equal(t, "tracker-1", cfg.Monitoring.Instance)
	assert.True(t, cfg.SLA.Enabled)
	assert.Equal(t, "*/15 * * * *", cfg.SLA.Schedule)
	assert.Equal(t, 48*time.Hour, cfg.SLA.MaxAge)
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "nats://nats.internal:4222", cfg.Relay.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields still pick up defaults.
	assert.Equal(t, "phasetrack", cfg.Monitoring.MetricsPrefix)
	assert.Equal(t, "phasetrack.event", cfg.Relay.SubjectPrefix)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [broken"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
