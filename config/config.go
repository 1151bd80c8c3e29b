package config

import (
	"log"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
	Site         SiteConfig         `yaml:"site"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Captcha      CaptchaConfig      `yaml:"captcha"`
	Notification NotificationConfig `yaml:"notification"`
	Push         PushConfig         `yaml:"push"`
	Redis        RedisConfig        `yaml:"redis"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres | sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// SiteConfig describes the booking website and how the browser talks to it.
type SiteConfig struct {
	CenterURLs          map[string]string `yaml:"center_urls"`
	UserAgent           string            `yaml:"user_agent"`
	Locale              string            `yaml:"locale"`
	Timezone            string            `yaml:"timezone"`
	ShowBrowser         bool              `yaml:"show_browser"` // run Chromium with a window
	NavigationTimeoutMs int               `yaml:"navigation_timeout_ms"`
	ActionTimeoutMs     int               `yaml:"action_timeout_ms"`
	SettleDelayMs       int               `yaml:"settle_delay_ms"`
	BlockedHosts        []string          `yaml:"blocked_hosts"`
}

// SchedulerConfig holds the monitor cadence and failure thresholds.
type SchedulerConfig struct {
	MinIntervalMinutes     int `yaml:"min_interval_minutes"`
	MaxIntervalMinutes     int `yaml:"max_interval_minutes"`
	DefaultIntervalMinutes int `yaml:"default_interval_minutes"`
	ErrorThreshold         int `yaml:"error_threshold"`
	WarningThreshold       int `yaml:"warning_threshold"`
	LastErrorMaxLen        int `yaml:"last_error_max_len"`
	CheckTimeoutSeconds    int `yaml:"check_timeout_seconds"`
	RecoveryConcurrency    int `yaml:"recovery_concurrency"`

	CheckTimeout time.Duration `yaml:"-"`
}

// CaptchaConfig configures the 2captcha-compatible solver.
type CaptchaConfig struct {
	BaseURL             string `yaml:"base_url"`
	APIKey              string `yaml:"api_key"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`

	PollInterval time.Duration `yaml:"-"`
}

// NotificationConfig holds the dispatcher and channel settings.
type NotificationConfig struct {
	Workers            int            `yaml:"workers"`
	QueueSize          int            `yaml:"queue_size"`
	SendTimeoutSeconds int            `yaml:"send_timeout_seconds"`
	SMTP               SMTPConfig     `yaml:"smtp"`
	Twilio             TwilioConfig   `yaml:"twilio"`
	Telegram           TelegramConfig `yaml:"telegram"`

	SendTimeout time.Duration `yaml:"-"`
}

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// TwilioConfig configures the SMS and WhatsApp channels.
type TwilioConfig struct {
	BaseURL      string `yaml:"base_url"`
	AccountSID   string `yaml:"account_sid"`
	AuthToken    string `yaml:"auth_token"`
	SMSFrom      string `yaml:"sms_from"`
	WhatsAppFrom string `yaml:"whatsapp_from"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	BaseURL  string `yaml:"base_url"`
	BotToken string `yaml:"bot_token"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// RedisConfig enables cross-process telemetry fan-out. Empty URL disables it.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// SweeperConfig schedules slot expiry.
type SweeperConfig struct {
	Enabled bool   `yaml:"enabled"`
	Spec    string `yaml:"spec"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open config", goerr.V("path", path))
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to decode config", goerr.V("path", path))
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset values and derives durations.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 5
	}
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 15
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if len(c.Site.CenterURLs) == 0 {
		c.Site.CenterURLs = map[string]string{
			"algiers": "https://algeria.blsspainvisa.com/algiers",
			"oran":    "https://algeria.blsspainvisa.com/oran",
		}
	}
	if c.Site.UserAgent == "" {
		c.Site.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if c.Site.Locale == "" {
		c.Site.Locale = "fr-FR"
	}
	if c.Site.Timezone == "" {
		c.Site.Timezone = "Africa/Algiers"
	}
	if c.Site.NavigationTimeoutMs <= 0 {
		c.Site.NavigationTimeoutMs = 30000
	}
	if c.Site.ActionTimeoutMs <= 0 {
		c.Site.ActionTimeoutMs = 5000
	}
	if c.Site.SettleDelayMs <= 0 {
		c.Site.SettleDelayMs = 2000
	}
	if c.Site.BlockedHosts == nil {
		c.Site.BlockedHosts = []string{
			"google-analytics.com",
			"googletagmanager.com",
			"doubleclick.net",
			"facebook.net",
			"hotjar.com",
		}
	}

	s := &c.Scheduler
	if s.MinIntervalMinutes <= 0 {
		s.MinIntervalMinutes = 3
	}
	if s.MaxIntervalMinutes <= 0 {
		s.MaxIntervalMinutes = 30
	}
	if s.DefaultIntervalMinutes <= 0 {
		s.DefaultIntervalMinutes = 5
	}
	if s.ErrorThreshold <= 0 {
		s.ErrorThreshold = 5
	}
	if s.WarningThreshold <= 0 {
		s.WarningThreshold = 3
	}
	if s.LastErrorMaxLen <= 0 {
		s.LastErrorMaxLen = 500
	}
	if s.CheckTimeoutSeconds <= 0 {
		s.CheckTimeoutSeconds = 300
	}
	if s.RecoveryConcurrency <= 0 {
		s.RecoveryConcurrency = 4
	}
	s.CheckTimeout = time.Duration(s.CheckTimeoutSeconds) * time.Second

	if c.Captcha.BaseURL == "" {
		c.Captcha.BaseURL = "http://2captcha.com"
	}
	if c.Captcha.PollIntervalSeconds <= 0 {
		c.Captcha.PollIntervalSeconds = 5
	}
	if c.Captcha.MaxAttempts <= 0 {
		c.Captcha.MaxAttempts = 24
	}
	c.Captcha.PollInterval = time.Duration(c.Captcha.PollIntervalSeconds) * time.Second

	n := &c.Notification
	if n.Workers <= 0 {
		log.Printf("notification.workers is not set or invalid; defaulting to 2")
		n.Workers = 2
	}
	if n.QueueSize <= 0 {
		n.QueueSize = 64
	}
	if n.SendTimeoutSeconds <= 0 {
		n.SendTimeoutSeconds = 15
	}
	n.SendTimeout = time.Duration(n.SendTimeoutSeconds) * time.Second
	if n.SMTP.Port == 0 {
		n.SMTP.Port = 587
	}
	if n.Twilio.BaseURL == "" {
		n.Twilio.BaseURL = "https://api.twilio.com"
	}
	if n.Telegram.BaseURL == "" {
		n.Telegram.BaseURL = "https://api.telegram.org"
	}

	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}

	if c.Redis.Channel == "" {
		c.Redis.Channel = "slotwatch:events"
	}

	if c.Sweeper.Spec == "" {
		c.Sweeper.Spec = "@every 1h"
	}
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	s := c.Scheduler
	if s.MinIntervalMinutes > s.MaxIntervalMinutes {
		return goerr.New("scheduler.min_interval_minutes exceeds max_interval_minutes",
			goerr.V("min", s.MinIntervalMinutes), goerr.V("max", s.MaxIntervalMinutes))
	}
	if s.WarningThreshold >= s.ErrorThreshold {
		return goerr.New("scheduler.warning_threshold must be below error_threshold",
			goerr.V("warning", s.WarningThreshold), goerr.V("error", s.ErrorThreshold))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return goerr.New("unsupported database driver", goerr.V("driver", c.Database.Driver))
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		return goerr.Wrap(err, "invalid site.timezone", goerr.V("timezone", c.Site.Timezone))
	}
	return nil
}

// Location returns the site's timezone, falling back to UTC.
func (s SiteConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
