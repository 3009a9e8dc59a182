// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// Secrets (portal credentials, bot token) are expected through the
// environment (TNP_PORTAL_USERNAME, TNP_NOTIFY_TELEGRAM_BOT_TOKEN, ...).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Portal   PortalConfig   `mapstructure:"portal"`
	Session  SessionConfig  `mapstructure:"session"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Store    StoreConfig    `mapstructure:"store"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for the manual trigger.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PortalConfig identifies the monitored portal and its credentials.
type PortalConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	LoginPath   string `mapstructure:"login_path"`
	NoticesPath string `mapstructure:"notices_path"`
	JobsPath    string `mapstructure:"jobs_path"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	UserAgent   string `mapstructure:"user_agent"`
	Timezone    string `mapstructure:"timezone"`
}

// SessionConfig bounds the headless login steps.
type SessionConfig struct {
	NavTimeoutSec  int `mapstructure:"nav_timeout_seconds"`
	StepTimeoutSec int `mapstructure:"step_timeout_seconds"`
}

// FetchConfig governs listing-page retrieval and the recency window.
type FetchConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	LookbackHours  int `mapstructure:"lookback_hours"`
}

// MonitorConfig controls the cycle schedule.
type MonitorConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	CycleTimeoutSec int  `mapstructure:"cycle_timeout_seconds"`
	RunOnStart      bool `mapstructure:"run_on_start"`
}

// NotifyConfig selects and tunes the notification channel.
type NotifyConfig struct {
	Provider         string         `mapstructure:"provider"` // telegram | pubsub | noop
	MaxRetries       int            `mapstructure:"max_retries"`
	BackoffInitialMs int            `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int            `mapstructure:"backoff_max_ms"`
	TimeoutSeconds   int            `mapstructure:"timeout_seconds"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
	PubSub           PubSubConfig   `mapstructure:"pubsub"`
}

// TelegramConfig holds Bot API delivery settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StoreConfig controls the dedup store backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"` // postgres | memory
	DSN      string `mapstructure:"dsn"`
}

// SnapshotConfig controls raw-page archiving.
type SnapshotConfig struct {
	Provider  string `mapstructure:"provider"` // gcs | local | noop
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TNP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("portal.base_url", "https://tp.bitmesra.co.in")
	v.SetDefault("portal.login_path", "/auth/login.html")
	v.SetDefault("portal.notices_path", "/newsevents")
	v.SetDefault("portal.jobs_path", "/index")
	v.SetDefault("portal.user_agent", "Mozilla/5.0 (compatible; TNPMonitor/1.0)")
	v.SetDefault("portal.timezone", "Asia/Kolkata")
	// Secrets default to empty so env values bind through Unmarshal.
	v.SetDefault("portal.username", "")
	v.SetDefault("portal.password", "")
	v.SetDefault("session.nav_timeout_seconds", 45)
	v.SetDefault("session.step_timeout_seconds", 20)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.lookback_hours", 24)
	v.SetDefault("monitor.interval_minutes", 10)
	v.SetDefault("monitor.cycle_timeout_seconds", 300)
	v.SetDefault("monitor.run_on_start", true)
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.backoff_initial_ms", 250)
	v.SetDefault("notify.backoff_max_ms", 5000)
	v.SetDefault("notify.timeout_seconds", 15)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_name", "")
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("snapshot.provider", "noop")
	v.SetDefault("snapshot.prefix", "pages")
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.base_dir", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url must be set")
	}
	if c.Monitor.IntervalMinutes <= 0 {
		return fmt.Errorf("monitor.interval_minutes must be > 0")
	}
	if c.Monitor.CycleTimeoutSec <= 0 {
		return fmt.Errorf("monitor.cycle_timeout_seconds must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Notify.Provider {
	case "telegram":
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.bot_token and chat_id must be set for the telegram provider")
		}
	case "pubsub":
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicName == "" {
			return fmt.Errorf("notify.pubsub.project_id and topic_name must be set for the pubsub provider")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown notify provider: %s", c.Notify.Provider)
	}
	switch c.Store.Provider {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	switch c.Snapshot.Provider {
	case "gcs":
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket must be set for the gcs provider")
		}
	case "local":
		if c.Snapshot.BaseDir == "" {
			return fmt.Errorf("snapshot.base_dir must be set for the local provider")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown snapshot provider: %s", c.Snapshot.Provider)
	}
	return nil
}

// Interval returns the scheduler period as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalMinutes) * time.Minute
}

// CycleTimeout returns the per-cycle budget as a duration.
func (c Config) CycleTimeout() time.Duration {
	return time.Duration(c.Monitor.CycleTimeoutSec) * time.Second
}
