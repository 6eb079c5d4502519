package notify_service_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Process.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Process.AttemptsInterval)
	assert.Equal(t, 10, cfg.Web.Hub.MaxDegreeOfParallelism)
	assert.Equal(t, 70, cfg.Web.Hub.PaidPercent)
	assert.Empty(t, cfg.Web.Hub.Internal)
	assert.Equal(t, "postgres", cfg.Queue.Driver)
	assert.Equal(t, "advisory", cfg.Queue.Locker)
	assert.Equal(t, "@every 1m", cfg.Maintenance.Schedule)
	assert.Equal(t, 2*time.Second, cfg.DB.QueryTimeout)
	assert.Equal(t, "notify-service", cfg.OTel.ServiceName)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoad_FileOverrides(t *testing.T) {
	p := writeConfig(t, `
process:
  maxAttempts: 3
  attemptsInterval: 30s
web:
  hub:
    internal: http://hub.local:8080
    maxDegreeOfParallelism: 20
    ratePerSec: 12.5
core:
  machinekey: secret
  keyId: node-1
queue:
  driver: memory
  locker: redis
tariffs:
  source: static
  paid_tenants: [1, 2]
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Process.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Process.AttemptsInterval)
	assert.Equal(t, "http://hub.local:8080", cfg.Web.Hub.Internal)
	assert.Equal(t, 20, cfg.Web.Hub.MaxDegreeOfParallelism)
	assert.InDelta(t, 12.5, cfg.Web.Hub.RatePerSec, 1e-9)
	assert.Equal(t, "secret", cfg.Core.MachineKey)
	assert.Equal(t, "node-1", cfg.Core.KeyID)
	assert.Equal(t, []int64{1, 2}, cfg.Tariffs.PaidTenants)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROCESS_MAXATTEMPTS", "7")
	t.Setenv("SERVER_METRICS_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Process.MaxAttempts)
	assert.Equal(t, ":9999", cfg.Server.MetricsAddr)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "queue:\n  driver: mysql\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "process:\n  maxAttempts: 0\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "web:\n  hub:\n    internal: http://hub.local\n"))
	require.ErrorIs(t, err, ErrMachineKeyRequired)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
