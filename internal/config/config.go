package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	StoreTimeout   time.Duration `mapstructure:"STORE_TIMEOUT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	RedisURL     string        `mapstructure:"REDIS_URL"`
	SlotCacheTTL time.Duration `mapstructure:"SLOT_CACHE_TTL"`

	SlotDefaultMinutes   int    `mapstructure:"SLOT_DEFAULT_MINUTES"`
	SlotFallbackAnnotate bool   `mapstructure:"SLOT_FALLBACK_ANNOTATE"`
	MaxSlotRangeDays     int    `mapstructure:"MAX_SLOT_RANGE_DAYS"`
	DefaultTimezone      string `mapstructure:"DEFAULT_TIMEZONE"`
	RetryMaxAttempts     int    `mapstructure:"RETRY_MAX_ATTEMPTS"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "STORE_TIMEOUT", "REQUEST_TIMEOUT",
	"REDIS_URL", "SLOT_CACHE_TTL",
	"SLOT_DEFAULT_MINUTES", "SLOT_FALLBACK_ANNOTATE", "MAX_SLOT_RANGE_DAYS", "DEFAULT_TIMEZONE", "RETRY_MAX_ATTEMPTS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SLOT_CACHE_TTL", "5m")
	v.SetDefault("SLOT_DEFAULT_MINUTES", 30)
	v.SetDefault("SLOT_FALLBACK_ANNOTATE", false)
	v.SetDefault("MAX_SLOT_RANGE_DAYS", 31)
	v.SetDefault("DEFAULT_TIMEZONE", "UTC")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "64K")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location returns the parsed DEFAULT_TIMEZONE. Call Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}

	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q is not a valid IANA zone: %w", c.DefaultTimezone, err)
	}

	durations := map[string]time.Duration{
		"STORE_TIMEOUT":   c.StoreTimeout,
		"REQUEST_TIMEOUT": c.RequestTimeout,
	}
	if c.RedisURL != "" {
		durations["SLOT_CACHE_TTL"] = c.SlotCacheTTL
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.SlotDefaultMinutes < 1 || c.SlotDefaultMinutes > 1440 {
		return fmt.Errorf("SLOT_DEFAULT_MINUTES must be between 1 and 1440, got %d", c.SlotDefaultMinutes)
	}
	if c.MaxSlotRangeDays < 1 {
		return fmt.Errorf("MAX_SLOT_RANGE_DAYS must be at least 1, got %d", c.MaxSlotRangeDays)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
