package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

const testToken = "crawler-token-abc123"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lookout.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// validBase returns a configuration that passes validation, for mutation
// in the failure table.
func validBase() *Config {
	cfg := Defaults()
	cfg.Crawler.BaseURL = "https://crawler.example/api"
	cfg.Crawler.Token = testToken
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Log.Level != "info" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
	if len(cfg.Crawler.Channels) != 1 || cfg.Crawler.Channels[0] != "all" {
		t.Fatalf("unexpected default channels %v", cfg.Crawler.Channels)
	}
	if cfg.Crawler.Reconnect.InitialDelaySeconds != 1 || cfg.Crawler.Reconnect.MaxDelaySeconds != 30 {
		t.Fatalf("unexpected reconnect defaults %+v", cfg.Crawler.Reconnect)
	}
	if cfg.Dedup.TTLSeconds != 60 {
		t.Fatalf("unexpected dedup ttl %d", cfg.Dedup.TTLSeconds)
	}
	if cfg.Log.Debug || cfg.Log.File != "" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
	if cfg.Crawler.UserRefreshSeconds != 0 {
		t.Fatalf("unexpected user refresh default %d", cfg.Crawler.UserRefreshSeconds)
	}
	if !cfg.CLI.Enabled || cfg.CLI.StatsIntervalSeconds != 60 {
		t.Fatalf("unexpected cli defaults %+v", cfg.CLI)
	}
	if cfg.Alerts.RateLimit != 10 || cfg.Alerts.RateWindowSeconds != 60 {
		t.Fatalf("unexpected alert defaults %+v", cfg.Alerts)
	}
	if cfg.Dashboard.Port != "3000" || cfg.Dashboard.RecentSize != 100 {
		t.Fatalf("unexpected dashboard defaults %+v", cfg.Dashboard)
	}
	if cfg.Firehose.Topic != "lookout.events" {
		t.Fatalf("unexpected firehose topic %q", cfg.Firehose.Topic)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
crawler:
  base_url: https://crawler.example/api
  channels: [tweets, profile]
filters:
  keywords: [btc, eth]
dedup:
  ttl_seconds: 120
`)
	t.Setenv("LOOKOUT_CONFIG", path)
	t.Setenv("LOOKOUT_CRAWLER_TOKEN", testToken)

	cfg, err := Load(quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Crawler.BaseURL != "https://crawler.example/api" {
		t.Fatalf("file value not applied: %q", cfg.Crawler.BaseURL)
	}
	if len(cfg.Crawler.Channels) != 2 {
		t.Fatalf("unexpected channels %v", cfg.Crawler.Channels)
	}
	if cfg.Dedup.TTLSeconds != 120 {
		t.Fatalf("unexpected dedup ttl %d", cfg.Dedup.TTLSeconds)
	}
	if len(cfg.Filters.Keywords) != 2 {
		t.Fatalf("unexpected keywords %v", cfg.Filters.Keywords)
	}
	// File was silent on these, defaults stay.
	if cfg.Dashboard.Port != "3000" || !cfg.CLI.Enabled {
		t.Fatal("defaults lost during file merge")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("LOOKOUT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("LOOKOUT_CRAWLER_TOKEN", testToken)
	t.Setenv("LOOKOUT_CRAWLER_URL", "https://crawler.example/api")

	cfg, err := Load(quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dedup.TTLSeconds != 60 {
		t.Fatalf("unexpected dedup ttl %d", cfg.Dedup.TTLSeconds)
	}
}

func TestLoadIgnoresTokenInFile(t *testing.T) {
	path := writeConfigFile(t, `
crawler:
  base_url: https://crawler.example/api
  token: file-token-should-not-count
`)
	t.Setenv("LOOKOUT_CONFIG", path)
	t.Setenv("LOOKOUT_CRAWLER_TOKEN", "")

	_, err := Load(quietLogger())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected validation failure without env token, got %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
crawler:
  base_url: https://file.example/api
  channels: [tweets]
`)
	t.Setenv("LOOKOUT_CONFIG", path)
	t.Setenv("LOOKOUT_CRAWLER_TOKEN", testToken)
	t.Setenv("LOOKOUT_CRAWLER_URL", "https://env.example/api")
	t.Setenv("LOOKOUT_CRAWLER_CHANNELS", "profile, following")
	t.Setenv("LOOKOUT_ALERT_RATE_LIMIT", "3")
	t.Setenv("LOOKOUT_CLI_ENABLED", "false")
	t.Setenv("LOOKOUT_DASHBOARD_ENABLED", "true")

	cfg, err := Load(quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Crawler.BaseURL != "https://env.example/api" {
		t.Fatalf("env did not win over file: %q", cfg.Crawler.BaseURL)
	}
	if len(cfg.Crawler.Channels) != 2 || cfg.Crawler.Channels[0] != "profile" || cfg.Crawler.Channels[1] != "following" {
		t.Fatalf("unexpected channels %v", cfg.Crawler.Channels)
	}
	if cfg.Alerts.RateLimit != 3 {
		t.Fatalf("unexpected rate limit %d", cfg.Alerts.RateLimit)
	}
	if cfg.CLI.Enabled {
		t.Fatal("cli should be disabled by env")
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Crawler.Token = "" }},
		{"short token", func(c *Config) { c.Crawler.Token = "short" }},
		{"placeholder token", func(c *Config) { c.Crawler.Token = "your_token_here_12345" }},
		{"missing url", func(c *Config) { c.Crawler.BaseURL = "" }},
		{"bad scheme", func(c *Config) { c.Crawler.BaseURL = "ftp://crawler.example" }},
		{"placeholder url", func(c *Config) { c.Crawler.BaseURL = "https://your-crawler.example" }},
		{"unknown channel", func(c *Config) { c.Crawler.Channels = []string{"bogus"} }},
		{"zero reconnect delay", func(c *Config) { c.Crawler.Reconnect.InitialDelaySeconds = 0 }},
		{"max delay below initial", func(c *Config) {
			c.Crawler.Reconnect.InitialDelaySeconds = 10
			c.Crawler.Reconnect.MaxDelaySeconds = 5
		}},
		{"multiplier below one", func(c *Config) { c.Crawler.Reconnect.Multiplier = 0.5 }},
		{"negative dedup ttl", func(c *Config) { c.Dedup.TTLSeconds = -1 }},
		{"dedup ttl above cap", func(c *Config) { c.Dedup.TTLSeconds = 301 }},
		{"negative user refresh", func(c *Config) { c.Crawler.UserRefreshSeconds = -5 }},
		{"exact placeholder token", func(c *Config) { c.Crawler.Token = "example_token" }},
		{"zero rate limit", func(c *Config) { c.Alerts.RateLimit = 0 }},
		{"recent size out of range", func(c *Config) { c.Dashboard.RecentSize = 5000 }},
		{"no sink enabled", func(c *Config) {
			c.CLI.Enabled = false
			c.Dashboard.Enabled = false
		}},
		{"telegram missing chat id", func(c *Config) {
			c.Alerts.Telegram.Enabled = true
			c.Alerts.Telegram.BotToken = "123456:bottokenvalue"
		}},
		{"discord bad url", func(c *Config) {
			c.Alerts.Discord.Enabled = true
			c.Alerts.Discord.WebhookURL = "not-a-url"
		}},
		{"webhook bad method", func(c *Config) {
			c.Alerts.Webhook.Enabled = true
			c.Alerts.Webhook.URL = "https://hook.example"
			c.Alerts.Webhook.Method = "DELETE"
		}},
		{"firehose without brokers", func(c *Config) {
			c.Firehose.Enabled = true
			c.Firehose.Brokers = nil
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBase()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	cfg := validBase()
	cfg.Alerts.Telegram.Enabled = true
	cfg.Alerts.Telegram.BotToken = "123456:bottokenvalue"
	cfg.Alerts.Telegram.ChatID = "-1001234"
	cfg.Alerts.Webhook.Enabled = true
	cfg.Alerts.Webhook.URL = "https://hook.example/alerts"
	cfg.Alerts.Webhook.Method = "PUT"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlaceholderWordsExactVersusSubstring(t *testing.T) {
	// The exact placeholder words only match whole values; a real token
	// merely containing one of them is accepted.
	cfg := validBase()
	cfg.Crawler.Token = "prod_test_token_91"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Crawler.Token = "test_token"
	if !errors.Is(cfg.Validate(), ErrInvalidConfig) {
		t.Fatal("bare placeholder token must be rejected")
	}

	// The substring words still match anywhere.
	cfg.Crawler.Token = "insert-your-token-here"
	if !errors.Is(cfg.Validate(), ErrInvalidConfig) {
		t.Fatal("token containing a substring placeholder must be rejected")
	}
}

func TestLoadLogAndRefreshOptions(t *testing.T) {
	t.Setenv("LOOKOUT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("LOOKOUT_CRAWLER_TOKEN", testToken)
	t.Setenv("LOOKOUT_CRAWLER_URL", "https://crawler.example/api")
	t.Setenv("LOOKOUT_DEBUG", "true")
	t.Setenv("LOOKOUT_LOG_FILE", "/tmp/lookout.log")
	t.Setenv("LOOKOUT_USER_REFRESH", "900")

	cfg, err := Load(quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Log.Debug {
		t.Fatal("debug flag not applied")
	}
	if cfg.Log.File != "/tmp/lookout.log" {
		t.Fatalf("unexpected log file %q", cfg.Log.File)
	}
	if cfg.Crawler.UserRefreshSeconds != 900 {
		t.Fatalf("unexpected refresh interval %d", cfg.Crawler.UserRefreshSeconds)
	}
}

func TestManagerGet(t *testing.T) {
	m := NewManager(validBase(), quietLogger())

	v, ok := m.Get("crawler.base_url")
	if !ok || v != "https://crawler.example/api" {
		t.Fatalf("unexpected lookup %v %v", v, ok)
	}

	s, ok := m.GetString("dedup.ttl_seconds")
	if !ok || s != "60" {
		t.Fatalf("unexpected string lookup %q %v", s, ok)
	}

	if _, ok := m.Get("crawler.missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
	if _, ok := m.Get("crawler.base_url.nested"); ok {
		t.Fatal("expected miss when descending into a leaf")
	}
}

func TestManagerGetHidesSecrets(t *testing.T) {
	m := NewManager(validBase(), quietLogger())
	if _, ok := m.Get("crawler.token"); ok {
		t.Fatal("token must not be reachable through Get")
	}
}

func TestManagerReloadKeepsConfigOnFailure(t *testing.T) {
	t.Setenv("LOOKOUT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("LOOKOUT_CRAWLER_TOKEN", "")

	old := validBase()
	m := NewManager(old, quietLogger())

	if err := m.Reload(); err == nil {
		t.Fatal("expected reload failure")
	}
	if m.Current() != old {
		t.Fatal("failed reload must keep the previous configuration")
	}
}

func TestManagerReloadSwapsOnSuccess(t *testing.T) {
	t.Setenv("LOOKOUT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("LOOKOUT_CRAWLER_TOKEN", testToken)
	t.Setenv("LOOKOUT_CRAWLER_URL", "https://crawler.example/api")
	t.Setenv("LOOKOUT_DEDUP_TTL", "42")

	old := validBase()
	m := NewManager(old, quietLogger())

	if err := m.Reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Current() == old {
		t.Fatal("reload did not swap the configuration")
	}
	if m.Current().Dedup.TTLSeconds != 42 {
		t.Fatalf("unexpected ttl %d", m.Current().Dedup.TTLSeconds)
	}
}
