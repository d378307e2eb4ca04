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
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_RepositoryDefault(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Table.Backend)
	assert.Equal(t, uint32(3), cfg.Tracking.SynThreshold)
	assert.Equal(t, "*", cfg.Capture.Filter)
	require.Len(t, cfg.Snapshot.Writers, 2)
	assert.Equal(t, "gob", cfg.Snapshot.Writers[0].Type)
}

func TestLoadConfig_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
capture:
  source: file
  read_file: trace.pcap
  ipv4: 10.0.0.5
table:
  backend: redis
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6379", cfg.Table.Redis.Addr)
	assert.Equal(t, "127.0.0.1:6379", cfg.BackendAddr())
	assert.Equal(t, uint32(3), cfg.Tracking.SynThreshold)

	op, err := cfg.Table.OpTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, op)

	idle, err := cfg.Table.IdleTimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, idle)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown source":   "capture:\n  source: carrier-pigeon\n",
		"file without path": "capture:\n  source: file\n",
		"bad ipv4":         "capture:\n  ipv4: not-an-ip\n",
		"zero threshold":   "tracking:\n  syn_threshold: 0\n",
		"bad idle timeout": "table:\n  idle_timeout: soon\n",
		"negative entries": "table:\n  max_entries: -1\n",
		"bad check interval while disabled": "alerter:\n  enabled: false\n  check_interval: soon\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_EmptyCheckInterval(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "alerter:\n  enabled: false\n  check_interval: \"\"\n"))
	require.NoError(t, err)
	d, err := cfg.Alerter.CheckIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}
