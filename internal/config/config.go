// Package config loads shiftsched settings from defaults, an optional config
// file and SHIFTSCHED_* environment variables, in increasing precedence.
package config

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/example/shift-scheduler/internal/errors"
)

const EnvPrefix = "SHIFTSCHED"

type Config struct {
	PollIntervalSeconds         int    `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	DailyBookingLimit           int    `mapstructure:"daily_booking_limit" yaml:"daily_booking_limit"`
	PerCycleBookingLimit        int    `mapstructure:"per_cycle_booking_limit" yaml:"per_cycle_booking_limit"`
	ConsecutiveFailureThreshold int    `mapstructure:"consecutive_failure_threshold" yaml:"consecutive_failure_threshold"`
	RecoveryDelaySeconds        int    `mapstructure:"recovery_delay_seconds" yaml:"recovery_delay_seconds"`
	LedgerPath                  string `mapstructure:"ledger_path" yaml:"ledger_path"`
	Timezone                    string `mapstructure:"timezone" yaml:"timezone"`

	MaxCandidatesPerCycle int `mapstructure:"max_candidates_per_cycle" yaml:"max_candidates_per_cycle"`
	ApplyAttempts         int `mapstructure:"apply_attempts" yaml:"apply_attempts"`
	FlowMaxSteps          int `mapstructure:"flow_max_steps" yaml:"flow_max_steps"`
	SelectAttempts        int `mapstructure:"select_attempts" yaml:"select_attempts"`
	SleepTickMS           int `mapstructure:"sleep_tick_ms" yaml:"sleep_tick_ms"`
	SummaryEveryCycles    int `mapstructure:"summary_every_cycles" yaml:"summary_every_cycles"`

	SearchURL   string   `mapstructure:"search_url" yaml:"search_url"`
	Partitions  []string `mapstructure:"partitions" yaml:"partitions"`
	FiltersPath string   `mapstructure:"filters_path" yaml:"filters_path"`

	Action      Action    `mapstructure:"action" yaml:"action"`
	WebDriver   WebDriver `mapstructure:"webdriver" yaml:"webdriver"`
	Session     Session   `mapstructure:"session" yaml:"session"`
	Notify      Notify    `mapstructure:"notify" yaml:"notify"`
	DatabaseURL string    `mapstructure:"database_url" yaml:"database_url"`
	Status      Status    `mapstructure:"status" yaml:"status"`
	Log         Log       `mapstructure:"log" yaml:"log"`
}

type Action struct {
	AttemptDelayMS        int `mapstructure:"attempt_delay_ms" yaml:"attempt_delay_ms"`
	AttemptTimeoutSeconds int `mapstructure:"attempt_timeout_seconds" yaml:"attempt_timeout_seconds"`
}

type WebDriver struct {
	URL      string   `mapstructure:"url" yaml:"url"`
	Browser  string   `mapstructure:"browser" yaml:"browser"`
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	Args     []string `mapstructure:"args" yaml:"args,omitempty"`
}

type Session struct {
	Path string `mapstructure:"path" yaml:"path"`
	// HashKey and BlockKey are base64, or a path to a file holding base64.
	HashKey  string `mapstructure:"hash_key" yaml:"hash_key"`
	BlockKey string `mapstructure:"block_key" yaml:"block_key"`
}

type Notify struct {
	WebhookURL     string  `mapstructure:"webhook_url" yaml:"webhook_url"`
	Username       string  `mapstructure:"username" yaml:"username"`
	Mention        string  `mapstructure:"mention" yaml:"mention"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RetryMax       int     `mapstructure:"retry_max" yaml:"retry_max"`
	RatePerMinute  float64 `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	FallbackPath   string  `mapstructure:"fallback_path" yaml:"fallback_path"`
	QueueSize      int     `mapstructure:"queue_size" yaml:"queue_size"`
}

type Status struct {
	ListenAddr   string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
}

type Log struct {
	JSON  bool   `mapstructure:"json" yaml:"json"`
	Level string `mapstructure:"level" yaml:"level"`
}

// SetDefaults registers every option's default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval_seconds", 45)
	v.SetDefault("daily_booking_limit", 5)
	v.SetDefault("per_cycle_booking_limit", 1)
	v.SetDefault("consecutive_failure_threshold", 10)
	v.SetDefault("recovery_delay_seconds", 120)
	v.SetDefault("ledger_path", "booking_state.json")
	v.SetDefault("timezone", "Local")

	v.SetDefault("max_candidates_per_cycle", 10)
	v.SetDefault("apply_attempts", 3)
	v.SetDefault("flow_max_steps", 5)
	v.SetDefault("select_attempts", 2)
	v.SetDefault("sleep_tick_ms", 1000)
	v.SetDefault("summary_every_cycles", 5)

	v.SetDefault("search_url", "")
	v.SetDefault("partitions", []string{})
	v.SetDefault("filters_path", "")

	v.SetDefault("action.attempt_delay_ms", 500)
	v.SetDefault("action.attempt_timeout_seconds", 10)

	v.SetDefault("webdriver.url", "http://localhost:4444")
	v.SetDefault("webdriver.browser", "chrome")
	v.SetDefault("webdriver.headless", true)
	v.SetDefault("webdriver.args", []string{})

	v.SetDefault("session.path", "session.dat")
	v.SetDefault("session.hash_key", "")
	v.SetDefault("session.block_key", "")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.username", "shiftsched")
	v.SetDefault("notify.mention", "@here")
	v.SetDefault("notify.timeout_seconds", 5)
	v.SetDefault("notify.retry_max", 5)
	v.SetDefault("notify.rate_per_minute", 30)
	v.SetDefault("notify.fallback_path", "notification_failures.log")
	v.SetDefault("notify.queue_size", 64)

	v.SetDefault("database_url", "")

	v.SetDefault("status.listen_addr", "")
	v.SetDefault("status.username", "admin")
	v.SetDefault("status.password_hash", "")

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// NewViper returns a viper instance with defaults and environment binding.
// When path is set the file is read through fs.
func NewViper(fs afero.Fs, path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read config file %s", path), errors.ErrInvalidConfig)
		}
	}
	return v, nil
}

// Load builds a Config from defaults, the file at path (optional) and the
// environment, then validates it.
func Load(fs afero.Fs, path string) (*Config, error) {
	v, err := NewViper(fs, path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode config"), errors.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges. It does not require search_url; commands that
// drive the browser call RequireSearchURL.
func (c *Config) Validate() error {
	positive := []struct {
		key string
		val int
	}{
		{"poll_interval_seconds", c.PollIntervalSeconds},
		{"daily_booking_limit", c.DailyBookingLimit},
		{"consecutive_failure_threshold", c.ConsecutiveFailureThreshold},
		{"max_candidates_per_cycle", c.MaxCandidatesPerCycle},
		{"apply_attempts", c.ApplyAttempts},
		{"flow_max_steps", c.FlowMaxSteps},
		{"select_attempts", c.SelectAttempts},
		{"sleep_tick_ms", c.SleepTickMS},
	}
	for _, p := range positive {
		if p.val < 1 {
			return errors.InvalidConfigf("%s must be at least 1, got %d", p.key, p.val)
		}
	}
	nonNegative := []struct {
		key string
		val int
	}{
		{"per_cycle_booking_limit", c.PerCycleBookingLimit},
		{"recovery_delay_seconds", c.RecoveryDelaySeconds},
		{"summary_every_cycles", c.SummaryEveryCycles},
		{"action.attempt_delay_ms", c.Action.AttemptDelayMS},
		{"action.attempt_timeout_seconds", c.Action.AttemptTimeoutSeconds},
		{"notify.retry_max", c.Notify.RetryMax},
		{"notify.timeout_seconds", c.Notify.TimeoutSeconds},
		{"notify.queue_size", c.Notify.QueueSize},
	}
	for _, p := range nonNegative {
		if p.val < 0 {
			return errors.InvalidConfigf("%s must not be negative, got %d", p.key, p.val)
		}
	}
	if c.LedgerPath == "" {
		return errors.InvalidConfigf("ledger_path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.WebDriver.Browser {
	case "chrome", "firefox", "MicrosoftEdge":
	default:
		return errors.InvalidConfigf("webdriver.browser %q is not supported", c.WebDriver.Browser)
	}
	if (c.Session.HashKey == "") != (c.Session.BlockKey == "") {
		return errors.WithHint(
			errors.InvalidConfigf("session.hash_key and session.block_key must be set together"),
			"run `shiftsched keys` to generate both")
	}
	return nil
}

// RequireSearchURL fails when no listing page is configured.
func (c *Config) RequireSearchURL() error {
	if c.SearchURL == "" {
		return errors.WithHint(errors.InvalidConfigf("search_url is required"),
			"set search_url in the config file or SHIFTSCHED_SEARCH_URL")
	}
	return nil
}

// Location is the zone whose midnight starts a new booking day.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "timezone %q", c.Timezone), errors.ErrInvalidConfig)
	}
	return loc, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) RecoveryDelay() time.Duration {
	return time.Duration(c.RecoveryDelaySeconds) * time.Second
}

func (c *Config) SleepTick() time.Duration {
	return time.Duration(c.SleepTickMS) * time.Millisecond
}

// SessionKeys decodes the vault keys. Both are nil when the vault is off.
func (c *Config) SessionKeys(fs afero.Fs) (hashKey, blockKey []byte, err error) {
	if c.Session.HashKey == "" && c.Session.BlockKey == "" {
		return nil, nil, nil
	}
	if hashKey, err = decodeKey(fs, c.Session.HashKey); err != nil {
		return nil, nil, errors.Wrap(err, "session.hash_key")
	}
	if blockKey, err = decodeKey(fs, c.Session.BlockKey); err != nil {
		return nil, nil, errors.Wrap(err, "session.block_key")
	}
	return hashKey, blockKey, nil
}

// decodeKey accepts base64 or the path of a file holding base64, which
// suits mounted secrets.
func decodeKey(fs afero.Fs, s string) ([]byte, error) {
	if b, err := afero.ReadFile(fs, s); err == nil {
		s = string(b)
	}
	s = strings.TrimSpace(s)
	dec, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode base64 key"), errors.ErrInvalidConfig)
	}
	return dec, nil
}

const redacted = "<redacted>"

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Session.HashKey)
	mask(&c.Session.BlockKey)
	mask(&c.Notify.WebhookURL)
	mask(&c.Status.PasswordHash)
	mask(&c.DatabaseURL)
	c.Partitions = append([]string(nil), c.Partitions...)
	c.WebDriver.Args = append([]string(nil), c.WebDriver.Args...)
	return c
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	return out, nil
}
