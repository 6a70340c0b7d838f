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

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "1990-01-01", c.Data.Start)
	assert.Equal(t, "2025-12-31", c.Data.End)
	assert.Equal(t, 3650, c.Data.MaxLookbackDays)
	assert.Equal(t, 15*time.Minute, c.Cache.TTLDaily)
	assert.Equal(t, 12*time.Hour, c.Cache.TTLPeriodic)
	assert.Equal(t, filepath.Join("config", "data_validation.yaml"), c.PolicyPath())
	assert.Equal(t, filepath.Join("config", "optimal_parameters.yaml"), c.DefaultsPath())
	require.NoError(t, c.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  cors: false
data:
  use_dummy_market: true
cache:
  ttl_daily: 5m
scheduler:
  enabled: true
  spec: "*/15 * * * *"
  watchlist:
    - symbol: macro.cpi
      freq: M
    - symbol: SPY
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, c.Server.Port)
	assert.False(t, c.Server.CORS)
	assert.True(t, c.Data.UseDummyMarket)
	assert.Equal(t, 5*time.Minute, c.Cache.TTLDaily)
	assert.Equal(t, 12*time.Hour, c.Cache.TTLPeriodic, "unset keys keep defaults")
	require.Len(t, c.Scheduler.Watchlist, 2)
	assert.Equal(t, "D", c.Scheduler.Watchlist[1].Freq)
}

func TestLoadWithEnv(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	t.Setenv("FRED_API_KEY", "secret")
	t.Setenv("USE_DUMMY_MARKET", "true")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("CONFIG_DIR", "/etc/finseries")
	t.Setenv("MAX_LOOKBACK_DAYS", "365")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", c.Providers.FRED.APIKey)
	assert.True(t, c.Data.UseDummyMarket)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "/etc/finseries/data_validation.yaml", c.PolicyPath())
	assert.Equal(t, 365, c.Data.MaxLookbackDays)
}

func TestLoadWithEnv_BadValues(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	for key, val := range map[string]string{"USE_DUMMY_MARKET": "maybe", "MAX_LOOKBACK_DAYS": "ten"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := LoadWithEnv(path)
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "bad start", mutate: func(c *Config) { c.Data.Start = "yesterday" }},
		{name: "inverted window", mutate: func(c *Config) { c.Data.Start, c.Data.End = "2020-01-01", "2010-01-01" }},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }},
		{name: "queue without redis", mutate: func(c *Config) { c.Queue.Enabled = true }},
		{name: "bad cron", mutate: func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Spec = "every day" }},
		{name: "empty watch symbol", mutate: func(c *Config) {
			c.Scheduler.Enabled = true
			c.Scheduler.Watchlist = []WatchItem{{Freq: "D"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
