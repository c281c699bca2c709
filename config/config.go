/*
Package config loads runtime configuration.

SOURCES (later wins):
  1. Defaults below
  2. config.yaml in the working directory or ./config (optional)
  3. Environment variables (a .env file is loaded into the environment by
     the CLI before Load runs)

KEYS:
  PORT                    HTTP port (8080)
  DATABASE_PATH           SQLite file, ":memory:" for a throwaway store
  ENV                     development | production
  LOG_LEVEL               debug | info | warn | error
  REDIS_ADDR              Notification outbox; empty disables Redis
  REDIS_PASSWORD, REDIS_DB
  NOTIFICATION_QUEUE      Redis list name
  OVERDUE_CRON            Daily overdue flip
  RESERVATION_SWEEP_CRON  Expired reservation release
  ROLLING_CRON            Rolling schedule extension
  ROLLING_LEAD_DAYS       How far ahead rolling lines are generated
  RATE_LIMIT_PER_MINUTE   Per-agency request budget, 0 disables
  ALLOWED_ORIGINS         Comma-separated CORS origins
*/
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port         int    `mapstructure:"PORT"`
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	Env          string `mapstructure:"ENV"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`

	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisPassword     string `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int    `mapstructure:"REDIS_DB"`
	NotificationQueue string `mapstructure:"NOTIFICATION_QUEUE"`

	OverdueCron          string `mapstructure:"OVERDUE_CRON"`
	ReservationSweepCron string `mapstructure:"RESERVATION_SWEEP_CRON"`
	RollingCron          string `mapstructure:"ROLLING_CRON"`
	RollingLeadDays      int    `mapstructure:"ROLLING_LEAD_DAYS"`

	RateLimitPerMinute int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	AllowedOrigins     string `mapstructure:"ALLOWED_ORIGINS"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("DATABASE_PATH", "tenancy.db")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("NOTIFICATION_QUEUE", "tenancy_notifications")
	v.SetDefault("OVERDUE_CRON", "5 0 * * *")
	v.SetDefault("RESERVATION_SWEEP_CRON", "*/15 * * * *")
	v.SetDefault("ROLLING_CRON", "30 0 * * *")
	v.SetDefault("ROLLING_LEAD_DAYS", 14)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 600)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")
}

// Load reads configuration. A missing config file is not an error; a
// malformed one is.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.RollingLeadDays < 0 {
		return fmt.Errorf("ROLLING_LEAD_DAYS must not be negative, got %d", c.RollingLeadDays)
	}
	for key, spec := range map[string]string{
		"OVERDUE_CRON":           c.OverdueCron,
		"RESERVATION_SWEEP_CRON": c.ReservationSweepCron,
		"ROLLING_CRON":           c.RollingCron,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q: %w", key, spec, err)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

// Origins splits ALLOWED_ORIGINS.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
