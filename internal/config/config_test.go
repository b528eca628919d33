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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: tokenwatch\n"))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.AlignToBucket)
	assert.Equal(t, 200, cfg.Engine.BatchSize)
	assert.Equal(t, 30, cfg.Engine.RetentionDays)
	assert.Equal(t, 10*time.Minute, cfg.Engine.ErrorSuppressWindow)
	assert.Equal(t, 2, cfg.Engine.ConfirmationNeed)
	assert.False(t, cfg.Dispatch.Telegram.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scheduler:
  interval: 30s
engine:
  batch_size: 50
  retention_days: 7
dispatch:
  live:
    enabled: true
    listen_addr: ":9090"
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 50, cfg.Engine.BatchSize)
	assert.Equal(t, 7, cfg.Engine.RetentionDays)
	assert.True(t, cfg.Dispatch.Live.Enabled)
	assert.Equal(t, ":9090", cfg.Dispatch.Live.ListenAddr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero interval", "scheduler:\n  interval: 0s\n"},
		{"zero batch size", "engine:\n  batch_size: 0\n"},
		{"telegram enabled without token", "dispatch:\n  telegram:\n    enabled: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TOKENWATCH_ENGINE_BATCH_SIZE", "17")

	cfg, err := Load(writeConfig(t, "app:\n  name: tokenwatch\n"))
	require.NoError(t, err)
	assert.Equal(t, 17, cfg.Engine.BatchSize)
}
