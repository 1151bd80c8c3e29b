package config

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Scheduler.MinIntervalMinutes)
	assert.Equal(t, 30, cfg.Scheduler.MaxIntervalMinutes)
	assert.Equal(t, 5, cfg.Scheduler.DefaultIntervalMinutes)
	assert.Equal(t, 5, cfg.Scheduler.ErrorThreshold)
	assert.Equal(t, 3, cfg.Scheduler.WarningThreshold)
	assert.Equal(t, 500, cfg.Scheduler.LastErrorMaxLen)
	assert.Equal(t, 24, cfg.Captcha.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Captcha.PollInterval)
	assert.Equal(t, "https://algeria.blsspainvisa.com/oran", cfg.Site.CenterURLs["oran"])
	assert.Contains(t, cfg.Site.UserAgent, "Chrome/120")
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  driver: sqlite
  dsn: "file::memory:"
scheduler:
  error_threshold: 7
  warning_threshold: 2
notification:
  workers: 4
  send_timeout_seconds: 3
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 7, cfg.Scheduler.ErrorThreshold)
	assert.Equal(t, 2, cfg.Scheduler.WarningThreshold)
	assert.Equal(t, 4, cfg.Notification.Workers)
	assert.Equal(t, 3*time.Second, cfg.Notification.SendTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"warning not below error", "scheduler:\n  error_threshold: 3\n  warning_threshold: 3\n"},
		{"min above max", "scheduler:\n  min_interval_minutes: 40\n"},
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"bad timezone", "site:\n  timezone: Mars/Olympus\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
