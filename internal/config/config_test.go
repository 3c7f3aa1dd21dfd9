package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Planner.MaxSteps)
	assert.Equal(t, 2, cfg.Planner.RetryCount)
	assert.Equal(t, "取消当前任务", cfg.Planner.CancelPhrase)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Planner, cfg.Planner)
}

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.yaml")
	content := `
log_level: debug
planner:
  max_steps: 8
llm:
  model: test-model
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Planner.MaxSteps)
	// Absent keys keep defaults.
	assert.Equal(t, 2, cfg.Planner.RetryCount)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "steward.db", cfg.DBPath)
}

func TestLoadConfigMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.yaml")
	require.NoError(t, os.WriteFile(path, []byte("planner: [not a map"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STEWARD_API_KEY", "sk-env")
	t.Setenv("STEWARD_MODEL", "env-model")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "env-model", cfg.LLM.Model)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero max steps", func(c *Config) { c.Planner.MaxSteps = 0 }},
		{"negative retry", func(c *Config) { c.Planner.RetryCount = -1 }},
		{"zero failure limit", func(c *Config) { c.Planner.FailureLimit = 0 }},
		{"empty cancel phrase", func(c *Config) { c.Planner.CancelPhrase = "" }},
		{"zero top k", func(c *Config) { c.Search.TopK = 0 }},
		{"bad refresh hour", func(c *Config) { c.ProfileRefresh.ScheduledHour = 24 }},
		{"zero lookback days", func(c *Config) { c.ProfileRefresh.LookbackDays = 0 }},
		{"zero max turns", func(c *Config) { c.ProfileRefresh.MaxTurns = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
