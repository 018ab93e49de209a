// Package config provides configuration loading for the Stratix control plane.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Engagement EngagementConfig `mapstructure:"engagement"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
	// WebhookSecret authenticates the email provider's event callbacks.
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	// Enabled selects the distributed cache; when false the process falls
	// back to the in-memory implementation at startup.
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SMTPConfig holds email gateway configuration.
type SMTPConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	From        string        `mapstructure:"from"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	// InviteBaseURL is the public URL invitation links point at.
	InviteBaseURL string `mapstructure:"invite_base_url"`
}

// Addr returns the SMTP address string.
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SchedulerConfig holds reminder scheduler configuration.
type SchedulerConfig struct {
	// Windows are the daily eligibility windows in HH:MM local time.
	// Weekends are always excluded.
	Windows []string `mapstructure:"windows"`
	// WindowLength is how long after a window opens a pass may still start.
	WindowLength time.Duration `mapstructure:"window_length"`
	// Concurrency bounds parallel email gateway calls in one pass.
	Concurrency int `mapstructure:"concurrency"`
	// LockTTL guards against overlapping passes on the same scope.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// EngagementConfig holds the smart-resend decision thresholds.
// These are product-tunable policy, not constants.
type EngagementConfig struct {
	// ClickGracePeriod is how long after a click with no acceptance the
	// engine recommends a human cancellation decision.
	ClickGracePeriod time.Duration `mapstructure:"click_grace_period"`
	// ResendMax caps automatic resends of expired invitations.
	ResendMax int `mapstructure:"resend_max"`
	// ReminderInterval is the minimum quiet period before a reminder.
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
	// ReminderMax caps reminders per invitation.
	ReminderMax int `mapstructure:"reminder_max"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/stratix")

	v.SetEnvPrefix("STRATIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Explicitly bind secrets (nested struct issue with viper)
	v.BindEnv("server.webhook_secret", "STRATIX_SERVER_WEBHOOK_SECRET")
	v.BindEnv("database.password", "STRATIX_DATABASE_PASSWORD")
	v.BindEnv("redis.password", "STRATIX_REDIS_PASSWORD")
	v.BindEnv("smtp.user", "STRATIX_SMTP_USER")
	v.BindEnv("smtp.password", "STRATIX_SMTP_PASSWORD")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "stratix")
	v.SetDefault("database.password", "stratix")
	v.SetDefault("database.database", "stratix")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// SMTP defaults
	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "no-reply@stratix.app")
	v.SetDefault("smtp.send_timeout", "10s")
	v.SetDefault("smtp.invite_base_url", "http://localhost:3000/invitations")

	// Scheduler defaults: two business-day windows
	v.SetDefault("scheduler.windows", []string{"09:00", "14:00"})
	v.SetDefault("scheduler.window_length", "1h")
	v.SetDefault("scheduler.concurrency", 5)
	v.SetDefault("scheduler.lock_ttl", "10m")

	// Engagement policy defaults
	v.SetDefault("engagement.click_grace_period", "48h")
	v.SetDefault("engagement.resend_max", 3)
	v.SetDefault("engagement.reminder_interval", "72h")
	v.SetDefault("engagement.reminder_max", 2)
}
