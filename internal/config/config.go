// Package config loads and validates the service configuration from
// defaults, an optional YAML file, and LOOKOUT_* environment variables,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"lookout/internal/sanitize"
	"lookout/internal/upstream"
	"lookout/pkg/config"
	"lookout/pkg/logging"
)

// DefaultPath is consulted when LOOKOUT_CONFIG is unset.
const DefaultPath = "lookout.yaml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Placeholder detection: the first two match anywhere, the last two only
// when they are the whole value.
var (
	placeholderSubstrings = []string{"your", "placeholder"}
	placeholderExact      = []string{"example_token", "test_token"}
)

// Config is the complete service configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Filters   FiltersConfig   `yaml:"filters"`
	Dedup     DedupConfig     `yaml:"dedup"`
	CLI       CLIConfig       `yaml:"cli"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Firehose  FirehoseConfig  `yaml:"firehose"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Health    HealthConfig    `yaml:"health"`
	Admin     AdminConfig     `yaml:"admin"`
}

// LogConfig controls the logger. Debug forces debug level regardless of
// Level. A non-empty File additionally writes log output to that path.
type LogConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
	File  string `yaml:"file"`
}

// CrawlerConfig points at the upstream event stream. The access token is
// never read from the file, only from LOOKOUT_CRAWLER_TOKEN.
type CrawlerConfig struct {
	BaseURL  string   `yaml:"base_url"`
	Token    string   `yaml:"-"`
	Channels []string `yaml:"channels"`
	Users    []string `yaml:"users"`

	// UserRefreshSeconds re-applies the active user set to the upstream
	// on this interval. Zero disables the refresh.
	UserRefreshSeconds int `yaml:"user_refresh_seconds"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig tunes the upstream retry policy.
type ReconnectConfig struct {
	InitialDelaySeconds int     `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     int     `yaml:"max_delay_seconds"`
	Multiplier          float64 `yaml:"multiplier"`
	MaxAttempts         int     `yaml:"max_attempts"`
}

// FiltersConfig declares the event filters.
type FiltersConfig struct {
	Users    []string `yaml:"users"`
	Keywords []string `yaml:"keywords"`
	Kinds    []string `yaml:"kinds"`
}

// DedupConfig tunes duplicate suppression. A zero TTL disables it.
type DedupConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// CLIConfig controls the terminal sink.
type CLIConfig struct {
	Enabled              bool `yaml:"enabled"`
	StatsIntervalSeconds int  `yaml:"stats_interval_seconds"`
}

// AlertsConfig holds the shared rate limit plus the per-channel sinks.
type AlertsConfig struct {
	RateLimit         int            `yaml:"rate_limit"`
	RateWindowSeconds int            `yaml:"rate_window_seconds"`
	Telegram          TelegramConfig `yaml:"telegram"`
	Discord           DiscordConfig  `yaml:"discord"`
	Webhook           WebhookConfig  `yaml:"webhook"`
}

// TelegramConfig configures the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// DiscordConfig configures the Discord alert channel.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig configures the generic webhook alert channel.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

// FirehoseConfig configures the optional Kafka egress.
type FirehoseConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// DashboardConfig configures the websocket dashboard server.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Port       string `yaml:"port"`
	StaticDir  string `yaml:"static_dir"`
	RecentSize int    `yaml:"recent_size"`
}

// HealthConfig configures the health and metrics listener.
type HealthConfig struct {
	Port string `yaml:"port"`
}

// AdminConfig guards the runtime admin endpoints.
type AdminConfig struct {
	Token string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Crawler: CrawlerConfig{
			Channels: []string{upstream.ChannelAll},
			Reconnect: ReconnectConfig{
				InitialDelaySeconds: 1,
				MaxDelaySeconds:     30,
				Multiplier:          2,
				MaxAttempts:         10,
			},
		},
		Dedup: DedupConfig{TTLSeconds: 60},
		CLI: CLIConfig{
			Enabled:              true,
			StatsIntervalSeconds: 60,
		},
		Alerts: AlertsConfig{
			RateLimit:         10,
			RateWindowSeconds: 60,
		},
		Firehose: FirehoseConfig{Topic: "lookout.events"},
		Dashboard: DashboardConfig{
			Enabled:    true,
			Port:       "3000",
			StaticDir:  "web/dist",
			RecentSize: 100,
		},
		Health: HealthConfig{Port: "3001"},
	}
}

// Load builds the effective configuration: defaults, then the YAML file,
// then environment overrides, then validation. Secrets are registered
// with the log sanitizer before returning.
func Load(logger logging.Logger) (*Config, error) {
	config.LoadEnv(nil)

	cfg := Defaults()
	path := config.GetEnv("LOOKOUT_CONFIG", DefaultPath)
	if err := loadFile(cfg, path, logger); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Log.File != "" {
		logger.WithField("path", cfg.Log.File).Warn("File logging enabled, log output will also be written to disk")
	}
	cfg.registerSecrets()
	return cfg, nil
}

// loadFile merges the YAML file into cfg. A missing file is fine; a
// token inside the file is discarded with a warning.
func loadFile(cfg *Config, path string, logger logging.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Probe for a token the file should not carry.
	var probe struct {
		Crawler struct {
			Token string `yaml:"token"`
		} `yaml:"crawler"`
	}
	if yaml.Unmarshal(raw, &probe) == nil && probe.Crawler.Token != "" {
		logger.WithField("path", path).Warn("Ignoring crawler token found in config file; set LOOKOUT_CRAWLER_TOKEN instead")
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = config.GetEnv("LOOKOUT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Debug = config.GetEnvBool("LOOKOUT_DEBUG", cfg.Log.Debug)
	cfg.Log.File = config.GetEnv("LOOKOUT_LOG_FILE", cfg.Log.File)

	cfg.Crawler.BaseURL = config.GetEnv("LOOKOUT_CRAWLER_URL", cfg.Crawler.BaseURL)
	cfg.Crawler.Token = os.Getenv("LOOKOUT_CRAWLER_TOKEN")
	cfg.Crawler.Channels = envList("LOOKOUT_CRAWLER_CHANNELS", cfg.Crawler.Channels)
	cfg.Crawler.Users = envList("LOOKOUT_CRAWLER_USERS", cfg.Crawler.Users)
	cfg.Crawler.UserRefreshSeconds = config.GetEnvInt("LOOKOUT_USER_REFRESH", cfg.Crawler.UserRefreshSeconds)
	cfg.Crawler.Reconnect.InitialDelaySeconds = config.GetEnvInt("LOOKOUT_RECONNECT_INITIAL_DELAY", cfg.Crawler.Reconnect.InitialDelaySeconds)
	cfg.Crawler.Reconnect.MaxDelaySeconds = config.GetEnvInt("LOOKOUT_RECONNECT_MAX_DELAY", cfg.Crawler.Reconnect.MaxDelaySeconds)
	cfg.Crawler.Reconnect.Multiplier = config.GetEnvFloat("LOOKOUT_RECONNECT_MULTIPLIER", cfg.Crawler.Reconnect.Multiplier)
	cfg.Crawler.Reconnect.MaxAttempts = config.GetEnvInt("LOOKOUT_RECONNECT_MAX_ATTEMPTS", cfg.Crawler.Reconnect.MaxAttempts)

	cfg.Filters.Users = envList("LOOKOUT_FILTER_USERS", cfg.Filters.Users)
	cfg.Filters.Keywords = envList("LOOKOUT_FILTER_KEYWORDS", cfg.Filters.Keywords)
	cfg.Filters.Kinds = envList("LOOKOUT_FILTER_KINDS", cfg.Filters.Kinds)

	cfg.Dedup.TTLSeconds = config.GetEnvInt("LOOKOUT_DEDUP_TTL", cfg.Dedup.TTLSeconds)

	cfg.CLI.Enabled = config.GetEnvBool("LOOKOUT_CLI_ENABLED", cfg.CLI.Enabled)
	cfg.CLI.StatsIntervalSeconds = config.GetEnvInt("LOOKOUT_STATS_INTERVAL", cfg.CLI.StatsIntervalSeconds)

	cfg.Alerts.RateLimit = config.GetEnvInt("LOOKOUT_ALERT_RATE_LIMIT", cfg.Alerts.RateLimit)
	cfg.Alerts.RateWindowSeconds = config.GetEnvInt("LOOKOUT_ALERT_RATE_WINDOW", cfg.Alerts.RateWindowSeconds)
	cfg.Alerts.Telegram.Enabled = config.GetEnvBool("LOOKOUT_TELEGRAM_ENABLED", cfg.Alerts.Telegram.Enabled)
	cfg.Alerts.Telegram.BotToken = config.GetEnv("LOOKOUT_TELEGRAM_BOT_TOKEN", cfg.Alerts.Telegram.BotToken)
	cfg.Alerts.Telegram.ChatID = config.GetEnv("LOOKOUT_TELEGRAM_CHAT_ID", cfg.Alerts.Telegram.ChatID)
	cfg.Alerts.Discord.Enabled = config.GetEnvBool("LOOKOUT_DISCORD_ENABLED", cfg.Alerts.Discord.Enabled)
	cfg.Alerts.Discord.WebhookURL = config.GetEnv("LOOKOUT_DISCORD_WEBHOOK_URL", cfg.Alerts.Discord.WebhookURL)
	cfg.Alerts.Webhook.Enabled = config.GetEnvBool("LOOKOUT_WEBHOOK_ENABLED", cfg.Alerts.Webhook.Enabled)
	cfg.Alerts.Webhook.URL = config.GetEnv("LOOKOUT_WEBHOOK_URL", cfg.Alerts.Webhook.URL)
	cfg.Alerts.Webhook.Method = config.GetEnv("LOOKOUT_WEBHOOK_METHOD", cfg.Alerts.Webhook.Method)

	cfg.Firehose.Enabled = config.GetEnvBool("LOOKOUT_FIREHOSE_ENABLED", cfg.Firehose.Enabled)
	cfg.Firehose.Brokers = envList("LOOKOUT_FIREHOSE_BROKERS", cfg.Firehose.Brokers)
	cfg.Firehose.Topic = config.GetEnv("LOOKOUT_FIREHOSE_TOPIC", cfg.Firehose.Topic)

	cfg.Dashboard.Enabled = config.GetEnvBool("LOOKOUT_DASHBOARD_ENABLED", cfg.Dashboard.Enabled)
	cfg.Dashboard.Port = config.GetEnv("LOOKOUT_DASHBOARD_PORT", cfg.Dashboard.Port)
	cfg.Dashboard.StaticDir = config.GetEnv("LOOKOUT_DASHBOARD_STATIC_DIR", cfg.Dashboard.StaticDir)
	cfg.Dashboard.RecentSize = config.GetEnvInt("LOOKOUT_DASHBOARD_RECENT_SIZE", cfg.Dashboard.RecentSize)

	cfg.Health.Port = config.GetEnv("LOOKOUT_HEALTH_PORT", cfg.Health.Port)
	cfg.Admin.Token = os.Getenv("LOOKOUT_ADMIN_TOKEN")
}

// Validate checks the effective configuration. Every failure wraps
// ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validateToken(c.Crawler.Token); err != nil {
		return err
	}
	if err := validateURL("crawler.base_url", c.Crawler.BaseURL); err != nil {
		return err
	}
	for _, ch := range c.Crawler.Channels {
		if !upstream.KnownChannel(strings.ToLower(strings.TrimSpace(ch))) {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, ch)
		}
	}

	if c.Crawler.Reconnect.InitialDelaySeconds < 1 {
		return fmt.Errorf("%w: reconnect initial delay must be at least 1 second", ErrInvalidConfig)
	}
	if c.Crawler.Reconnect.MaxDelaySeconds < c.Crawler.Reconnect.InitialDelaySeconds {
		return fmt.Errorf("%w: reconnect max delay must be at least the initial delay", ErrInvalidConfig)
	}
	if c.Crawler.Reconnect.Multiplier < 1 {
		return fmt.Errorf("%w: reconnect multiplier must be at least 1", ErrInvalidConfig)
	}
	if c.Crawler.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("%w: reconnect max attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Dedup.TTLSeconds < 0 || c.Dedup.TTLSeconds > 300 {
		return fmt.Errorf("%w: dedup ttl must be between 0 and 300 seconds", ErrInvalidConfig)
	}
	if c.Crawler.UserRefreshSeconds < 0 {
		return fmt.Errorf("%w: user refresh interval must not be negative", ErrInvalidConfig)
	}
	if c.Alerts.RateLimit < 1 {
		return fmt.Errorf("%w: alert rate limit must be at least 1", ErrInvalidConfig)
	}
	if c.Alerts.RateWindowSeconds < 1 {
		return fmt.Errorf("%w: alert rate window must be at least 1 second", ErrInvalidConfig)
	}
	if c.Dashboard.RecentSize < 1 || c.Dashboard.RecentSize > 1000 {
		return fmt.Errorf("%w: dashboard recent size must be between 1 and 1000", ErrInvalidConfig)
	}

	if !c.CLI.Enabled && !c.Dashboard.Enabled && !c.Firehose.Enabled &&
		!c.Alerts.Telegram.Enabled && !c.Alerts.Discord.Enabled && !c.Alerts.Webhook.Enabled {
		return fmt.Errorf("%w: no sink enabled", ErrInvalidConfig)
	}

	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.BotToken == "" || c.Alerts.Telegram.ChatID == "" {
			return fmt.Errorf("%w: telegram sink requires bot_token and chat_id", ErrInvalidConfig)
		}
		if containsPlaceholder(c.Alerts.Telegram.BotToken) {
			return fmt.Errorf("%w: telegram bot_token looks like a placeholder", ErrInvalidConfig)
		}
	}
	if c.Alerts.Discord.Enabled {
		if err := validateURL("alerts.discord.webhook_url", c.Alerts.Discord.WebhookURL); err != nil {
			return err
		}
	}
	if c.Alerts.Webhook.Enabled {
		if err := validateURL("alerts.webhook.url", c.Alerts.Webhook.URL); err != nil {
			return err
		}
		switch c.Alerts.Webhook.Method {
		case "", "POST", "PUT":
		default:
			return fmt.Errorf("%w: webhook method must be POST or PUT", ErrInvalidConfig)
		}
	}
	if c.Firehose.Enabled && len(c.Firehose.Brokers) == 0 {
		return fmt.Errorf("%w: firehose requires at least one broker", ErrInvalidConfig)
	}
	return nil
}

func validateToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: LOOKOUT_CRAWLER_TOKEN is not set", ErrInvalidConfig)
	}
	if len(token) < 10 {
		return fmt.Errorf("%w: crawler token is too short", ErrInvalidConfig)
	}
	if containsPlaceholder(token) {
		return fmt.Errorf("%w: crawler token looks like a placeholder", ErrInvalidConfig)
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: %s is not set", ErrInvalidConfig, field)
	}
	if containsPlaceholder(raw) {
		return fmt.Errorf("%w: %s looks like a placeholder", ErrInvalidConfig, field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s is not a valid URL", ErrInvalidConfig, field)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s must use http or https", ErrInvalidConfig, field)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s is missing a host", ErrInvalidConfig, field)
	}
	return nil
}

func containsPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, word := range placeholderSubstrings {
		if strings.Contains(lower, word) {
			return true
		}
	}
	for _, word := range placeholderExact {
		if lower == word {
			return true
		}
	}
	return false
}

func (c *Config) registerSecrets() {
	sanitize.RegisterSecret(c.Crawler.Token)
	sanitize.RegisterSecret(c.Alerts.Telegram.BotToken)
	sanitize.RegisterSecret(c.Alerts.Discord.WebhookURL)
	sanitize.RegisterSecret(c.Admin.Token)
}

func envList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
