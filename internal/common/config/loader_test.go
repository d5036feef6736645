package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
backend:
  base_url: http://localhost:8000
realtime:
  base_url: ws://localhost:8000
credentials:
  username: dana
  password: pw
`

// ==========================
// Defaults
// ==========================

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 15000, cfg.Backend.Timeout)
	assert.Equal(t, 10000, cfg.Realtime.HandshakeTimeout)
	assert.Equal(t, 3000, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, 2000, cfg.Notify.PollInterval)
	assert.Equal(t, 180000, cfg.Negotiation.Deadline)
	assert.Equal(t, "user", cfg.Credentials.Role)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
}

func TestLoadFromFileKeepsExplicitValues(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, `
backend:
  base_url: http://localhost:8000
  timeout: 5000
realtime:
  base_url: ws://localhost:8000
  reconnect_delay: 1000
notifications:
  poll_interval: 500
negotiation:
  deadline: 60000
credentials:
  username: dana
  password: pw
  role: provider
`))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Backend.Timeout)
	assert.Equal(t, 1000, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, 500, cfg.Notify.PollInterval)
	assert.Equal(t, 60000, cfg.Negotiation.Deadline)
	assert.Equal(t, "provider", cfg.Credentials.Role)
}

// ==========================
// Validation
// ==========================

func TestLoadFromFileRequiresBackendURL(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
realtime:
  base_url: ws://localhost:8000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.base_url")
}

func TestLoadFromFileRejectsHTTPRealtimeScheme(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
backend:
  base_url: http://localhost:8000
realtime:
  base_url: http://localhost:8000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws://")
}

func TestLoadFromFileRejectsUnknownRole(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
backend:
  base_url: http://localhost:8000
realtime:
  base_url: ws://localhost:8000
credentials:
  role: admin
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials.role")
}

func TestLoadFromFileRequiresRedisAddressWhenEnabled(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
backend:
  base_url: http://localhost:8000
realtime:
  base_url: ws://localhost:8000
redis:
  enabled: true
  address: ""
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.address")
}

// ==========================
// Environment overrides
// ==========================

func TestCredentialsFilledFromEnvironment(t *testing.T) {
	t.Setenv("DOERHUB_USERNAME", "env-user")
	t.Setenv("DOERHUB_PASSWORD", "env-pass")

	cfg, err := LoadFromFile(writeConfig(t, `
backend:
  base_url: http://localhost:8000
realtime:
  base_url: ws://localhost:8000
`))
	require.NoError(t, err)

	assert.Equal(t, "env-user", cfg.Credentials.Username)
	assert.Equal(t, "env-pass", cfg.Credentials.Password)
}

// ==========================
// Helpers
// ==========================

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, GetDuration(2000))
	assert.Equal(t, 3*time.Second, GetDuration(3000))
	assert.Equal(t, time.Duration(0), GetDuration(0))
}
