package config

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/example/shift-scheduler/internal/errors"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.PollInterval())
	assert.Equal(t, 5, cfg.DailyBookingLimit)
	assert.Equal(t, 1, cfg.PerCycleBookingLimit)
	assert.Equal(t, 10, cfg.ConsecutiveFailureThreshold)
	assert.Equal(t, 120*time.Second, cfg.RecoveryDelay())
	assert.Equal(t, "booking_state.json", cfg.LedgerPath)
	assert.Equal(t, 10, cfg.MaxCandidatesPerCycle)
	assert.Equal(t, 3, cfg.ApplyAttempts)
	assert.Equal(t, 5, cfg.FlowMaxSteps)
	assert.Equal(t, time.Second, cfg.SleepTick())
	assert.Equal(t, "http://localhost:4444", cfg.WebDriver.URL)
	assert.True(t, cfg.WebDriver.Headless)
	assert.Equal(t, "notification_failures.log", cfg.Notify.FallbackPath)
	assert.Equal(t, 64, cfg.Notify.QueueSize)
	assert.Equal(t, "admin", cfg.Status.Username)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Partitions)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	assert.True(t, errors.IsInvalidConfig(cfg.RequireSearchURL()))
}

func TestLoadFileAndEnv(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/shiftsched.yaml", []byte(`
poll_interval_seconds: 30
daily_booking_limit: 3
search_url: https://hiring.example.com/app#/jobSearch
partitions: [Seattle, Tacoma]
timezone: America/Los_Angeles
webdriver:
  browser: firefox
  headless: false
notify:
  webhook_url: https://discord.example/api/webhooks/1/abc
`), 0o644))

	t.Setenv("SHIFTSCHED_DAILY_BOOKING_LIMIT", "4")
	t.Setenv("SHIFTSCHED_NOTIFY_RETRY_MAX", "2")

	cfg, err := Load(fs, "/etc/shiftsched.yaml")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.PollIntervalSeconds)
	assert.Equal(t, 4, cfg.DailyBookingLimit, "environment beats file")
	assert.Equal(t, 2, cfg.Notify.RetryMax)
	assert.Equal(t, []string{"Seattle", "Tacoma"}, cfg.Partitions)
	assert.Equal(t, "firefox", cfg.WebDriver.Browser)
	assert.False(t, cfg.WebDriver.Headless)
	assert.NoError(t, cfg.RequireSearchURL())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", loc.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/nope.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfig(err))
}

func TestValidate(t *testing.T) {
	base, err := Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero poll", func(c *Config) { c.PollIntervalSeconds = 0 }, "poll_interval_seconds"},
		{"zero daily limit", func(c *Config) { c.DailyBookingLimit = 0 }, "daily_booking_limit"},
		{"negative recovery", func(c *Config) { c.RecoveryDelaySeconds = -1 }, "recovery_delay_seconds"},
		{"no ledger path", func(c *Config) { c.LedgerPath = "" }, "ledger_path"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad browser", func(c *Config) { c.WebDriver.Browser = "lynx" }, "webdriver.browser"},
		{"half session keys", func(c *Config) { c.Session.HashKey = "abc" }, "session.hash_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *base
			tc.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalidConfig(err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSessionKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	hash := bytes.Repeat([]byte{1}, 32)
	block := bytes.Repeat([]byte{2}, 32)
	require.NoError(t, afero.WriteFile(fs, "/run/secrets/block", []byte(base64.StdEncoding.EncodeToString(block)+"\n"), 0o600))

	c := &Config{Session: Session{
		HashKey:  base64.StdEncoding.EncodeToString(hash),
		BlockKey: "/run/secrets/block",
	}}
	gotHash, gotBlock, err := c.SessionKeys(fs)
	require.NoError(t, err)
	assert.Equal(t, hash, gotHash)
	assert.Equal(t, block, gotBlock)

	off := &Config{}
	gotHash, gotBlock, err = off.SessionKeys(fs)
	require.NoError(t, err)
	assert.Nil(t, gotHash)
	assert.Nil(t, gotBlock)

	bad := &Config{Session: Session{HashKey: "!!", BlockKey: "!!"}}
	_, _, err = bad.SessionKeys(fs)
	assert.True(t, errors.IsInvalidConfig(err))
}

func TestYAMLRedactsSecrets(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	cfg.Notify.WebhookURL = "https://discord.example/api/webhooks/1/secret"
	cfg.Session.HashKey = "aGFzaA=="
	cfg.DatabaseURL = "postgres://u:p@db/shifts"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret")
	assert.NotContains(t, string(out), "u:p@")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, 45, back["poll_interval_seconds"])
	assert.Equal(t, redacted, back["notify"].(map[string]any)["webhook_url"])
	assert.Equal(t, "", back["session"].(map[string]any)["block_key"])

	assert.Equal(t, "https://discord.example/api/webhooks/1/secret", cfg.Notify.WebhookURL, "original untouched")
}
