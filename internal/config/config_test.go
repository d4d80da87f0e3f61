package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8000/api/attendances", cfg.AttendanceAPIURL)
	assert.Equal(t, 4370, cfg.DevicePort)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, time.Second, cfg.IdleBackoff)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, filepath.Join("logs", "failed_logs.json"), cfg.FailedLogsFile)
	assert.Equal(t, "http", cfg.DeliveryTransport)
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "relay.env")
	content := "ATTENDANCE_API_URL=http://api.local/attendances\nSWEEP_INTERVAL_SECONDS=60\nLOG_DIR=/var/log/relay\nCAPTURE_TIMEOUT_SECONDS=bogus\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	t.Cleanup(func() {
		for _, key := range []string{"ATTENDANCE_API_URL", "SWEEP_INTERVAL_SECONDS", "LOG_DIR", "CAPTURE_TIMEOUT_SECONDS"} {
			os.Unsetenv(key)
		}
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "http://api.local/attendances", cfg.AttendanceAPIURL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, filepath.Join("/var/log/relay", "failed_logs.json"), cfg.FailedLogsFile)
	assert.Equal(t, 10*time.Second, cfg.CaptureTimeout, "unparseable values fall back to the default")
}
