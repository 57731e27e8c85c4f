package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.Queue.DSN)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 587, cfg.Mail.Port)
	assert.False(t, cfg.CRMEnabled())
}

func TestLoadFileYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nurture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
queue:
  dsn: postgres://localhost/nurture
  workers: 8
  poll_interval: 2s
crm:
  api_token: file-token
  location_id: loc-1
`), 0o600))

	t.Setenv("QUEUE_WORKERS", "2")
	t.Setenv("QUEUE_SERIALIZE_PER_LEAD", "true")
	t.Setenv("CRM_API_TOKEN", "env-token")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://localhost/nurture", cfg.Queue.DSN)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, 2*time.Second, cfg.Queue.PollInterval)
	assert.True(t, cfg.Queue.SerializePerLead)
	assert.Equal(t, "env-token", cfg.CRM.APIToken)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.CRMEnabled())
}

func TestQueueDSNDefaultsToDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db.internal/nurture")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal/nurture", cfg.QueueDSN())

	t.Setenv("QUEUE_DSN", "memory://")
	cfg, err = LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "memory://", cfg.QueueDSN())
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("PORT", "7000")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
}

func TestPollIntervalAcceptsMilliseconds(t *testing.T) {
	t.Setenv("QUEUE_POLL_INTERVAL", "250")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "0")

	_, err := LoadFile("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue: [not, a, map]"), 0o600))
	t.Setenv("QUEUE_WORKERS", "")
	_, err = LoadFile(path)
	assert.Error(t, err)
}
