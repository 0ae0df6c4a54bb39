package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.Broker.URL)
	assert.Equal(t, "ledsync", cfg.Broker.ClientIDPrefix)
	assert.Equal(t, 30*time.Second, cfg.Broker.KeepAlive.Duration())
	assert.Equal(t, 30*time.Second, cfg.Broker.ConnectTimeout.Duration())
	assert.Equal(t, 3*time.Second, cfg.Broker.ReconnectDelay.Duration())
	assert.Equal(t, 5, cfg.Broker.MaxReconnects)
	assert.Equal(t, "led_matrix/commands", cfg.Topics.Commands)
	assert.Equal(t, "led_matrix/status", cfg.Topics.Status)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Ledger.IsEnabled())
	assert.Equal(t, 30, cfg.Ledger.RetentionDays)
	assert.True(t, cfg.State.ShouldRestore())
	assert.True(t, cfg.API.IsEnabled())
	assert.Equal(t, "0.0.0.0:8080", cfg.API.Addr())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration())
}

func TestParse_Values(t *testing.T) {
	cfg, err := Parse([]byte(`
broker:
  url: redis://localhost:6379/0
  reconnect_delay: 500ms
  max_reconnects: 2
topics:
  commands: lab/cmd
  status: lab/status
ledger:
  enabled: false
state:
  restore: false
api:
  enabled: false
  port: 9000
log:
  level: debug
  use_json: true
`))
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.Broker.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Broker.ReconnectDelay.Duration())
	assert.Equal(t, 2, cfg.Broker.MaxReconnects)
	assert.Equal(t, "lab/cmd", cfg.Topics.Commands)
	assert.False(t, cfg.Ledger.IsEnabled())
	assert.False(t, cfg.State.ShouldRestore())
	assert.False(t, cfg.API.IsEnabled())
	assert.Equal(t, 9000, cfg.API.Port)
	assert.True(t, cfg.Log.UseJSON)
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("LEDSYNC_BROKER", "ssl://broker.example:8883")
	os.Unsetenv("LEDSYNC_MISSING")

	cfg, err := Parse([]byte(`
broker:
  url: ${LEDSYNC_BROKER}
  username: ${LEDSYNC_MISSING:web}
  password: ${LEDSYNC_MISSING}
`))
	require.NoError(t, err)
	assert.Equal(t, "ssl://broker.example:8883", cfg.Broker.URL)
	assert.Equal(t, "web", cfg.Broker.Username)
	assert.Empty(t, cfg.Broker.Password)
}

func TestParse_Discover(t *testing.T) {
	cfg, err := Parse([]byte("broker:\n  discover: true\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Broker.URL, "discovery leaves the url to mDNS")
	assert.Equal(t, 3*time.Second, cfg.Broker.DiscoverTimeout.Duration())
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad duration": "broker:\n  reconnect_delay: soon\n",
		"negative max": "broker:\n  max_reconnects: -1\n",
		"bad level":    "log:\n  level: loud\n",
		"bad port":     "api:\n  port: 70000\n",
		"not yaml":     "broker: [",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: /tmp/x.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "./ledsync.sqlite", cfg.Database.Path)
}
