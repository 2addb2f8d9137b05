package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "sentinel-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  environment: "development"
  log_level: "debug"

kafka:
  enabled: true
  brokers:
    - "localhost:19092"

clickhouse:
  dsn: "clickhouse://localhost:9000/sentinel_test"

monitor:
  interval_critical_ms: 2000
  sweep_interval_s: 30

thresholds:
  flash_rug_liq_10s_pct: -40
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "development", cfg.General.Environment)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "clickhouse://localhost:9000/sentinel_test", cfg.ClickHouse.DSN)
	assert.Equal(t, 2000, cfg.Monitor.IntervalCriticalMs)
	assert.Equal(t, 30, cfg.Monitor.SweepIntervalS)
	assert.Equal(t, -40.0, cfg.Thresholds.FlashRugLiq10sPct)
}

func TestLoadConfigDefaults(t *testing.T) {
	yaml := `
general:
  log_level: "warn"
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "sentinel-1", cfg.General.InstanceID)
	assert.Equal(t, "warn", cfg.General.LogLevel)
	assert.Equal(t, "json", cfg.General.LogFormat)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "sentinel.", cfg.Kafka.TopicPrefix)
	assert.Equal(t, 9090, cfg.Metrics.Port)

	// Sub-package defaults survive a config file that never mentions them.
	assert.Equal(t, 5000, cfg.Monitor.IntervalCriticalMs)
	assert.Equal(t, -50.0, cfg.Thresholds.FlashRugLiq10sPct)
	assert.Equal(t, 5, cfg.Risk.CacheTTLMin)
	assert.Equal(t, 24, cfg.Honeypot.MaxSamples)
}

func TestLoadConfigPartialSection(t *testing.T) {
	// Overriding one key in a section keeps defaults for the rest of it.
	yaml := `
monitor:
  interval_low_ms: 60000
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, 60000, cfg.Monitor.IntervalLowMs)
	assert.Equal(t, 5000, cfg.Monitor.IntervalCriticalMs)
	assert.Equal(t, 4, cfg.Monitor.SweepConcurrency)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	os.Setenv("TEST_SENTINEL_INSTANCE", "env-node")
	defer os.Unsetenv("TEST_SENTINEL_INSTANCE")

	yaml := `
general:
  instance_id: "${TEST_SENTINEL_INSTANCE}"
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "env-node", cfg.General.InstanceID)
}
