package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the application-wide configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Clock     ClockConfig     `mapstructure:"clock"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port           int        `mapstructure:"port"`
	BaseURL        string     `mapstructure:"base_url"`
	BodyLimitBytes int64      `mapstructure:"body_limit_bytes"`
	CORS           CORSConfig `mapstructure:"cors"`
}

// CORSConfig cross-origin settings
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig PostgreSQL settings
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // minutes
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // minutes
}

// DSN builds the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig JWT verification settings. Token issuance lives in the
// identity service; this process only verifies access tokens.
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// LogConfig logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClockConfig fixes the zone used for midnight normalization.
// Ledger and billing must share it.
type ClockConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Location resolves the configured zone.
func (c *ClockConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// MealRatesConfig per-meal rates in rupees
type MealRatesConfig struct {
	Breakfast     float64 `mapstructure:"breakfast"`
	Lunch         float64 `mapstructure:"lunch"`
	EveningSnacks float64 `mapstructure:"evening_snacks"`
	Dinner        float64 `mapstructure:"dinner"`
}

// BillingConfig holds the surrounding app's billing policy. The values are
// applied by the HTTP layer when a request omits them and are always passed
// into the billing service explicitly.
type BillingConfig struct {
	DefaultMealRates    MealRatesConfig `mapstructure:"default_meal_rates"`
	DefaultFixedCharges float64         `mapstructure:"default_fixed_charges"`
	DefaultLateFee      float64         `mapstructure:"default_late_fee"`
	DueDays             int             `mapstructure:"due_days"`
	BulkConcurrency     int             `mapstructure:"bulk_concurrency"`
}

// SchedulerConfig daily job settings, times are HH:MM in the clock zone
type SchedulerConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	AutoPresenceAt      string `mapstructure:"auto_presence_at"`
	LateFeeSweepEnabled bool   `mapstructure:"late_fee_sweep_enabled"`
	LateFeeSweepAt      string `mapstructure:"late_fee_sweep_at"`
}

// RateLimitConfig write-endpoint throttling
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Load reads configuration from file and environment.
// Precedence: env > file > defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── defaults ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.body_limit_bytes", 1<<20)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "messhub")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "Asia/Kolkata")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)
	v.SetDefault("db.conn_max_idle_time", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.access_token_ttl", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("clock.timezone", "Asia/Kolkata")

	v.SetDefault("billing.default_meal_rates.breakfast", 30)
	v.SetDefault("billing.default_meal_rates.lunch", 50)
	v.SetDefault("billing.default_meal_rates.evening_snacks", 20)
	v.SetDefault("billing.default_meal_rates.dinner", 50)
	v.SetDefault("billing.default_fixed_charges", 0)
	v.SetDefault("billing.default_late_fee", 50)
	v.SetDefault("billing.due_days", 15)
	v.SetDefault("billing.bulk_concurrency", 4)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.auto_presence_at", "00:01")
	v.SetDefault("scheduler.late_fee_sweep_enabled", false)
	v.SetDefault("scheduler.late_fee_sweep_at", "02:00")

	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", "1m")

	// ── config file ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── environment ──
	v.SetEnvPrefix("MESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// no file: defaults and env only
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

// Validate checks the settings the process cannot run without.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret must not be empty")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("config: auth.jwt_secret must be at least 16 characters")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be within 1-65535")
	}
	if _, err := c.Clock.Location(); err != nil {
		return fmt.Errorf("config: clock.timezone %q: %w", c.Clock.Timezone, err)
	}
	r := c.Billing.DefaultMealRates
	if r.Breakfast < 0 || r.Lunch < 0 || r.EveningSnacks < 0 || r.Dinner < 0 {
		return fmt.Errorf("config: billing.default_meal_rates must not be negative")
	}
	if c.Billing.DefaultFixedCharges < 0 || c.Billing.DefaultLateFee < 0 {
		return fmt.Errorf("config: billing charges must not be negative")
	}
	if c.Billing.DueDays <= 0 {
		return fmt.Errorf("config: billing.due_days must be positive")
	}
	if c.Billing.BulkConcurrency < 1 {
		return fmt.Errorf("config: billing.bulk_concurrency must be at least 1")
	}
	for _, at := range []string{c.Scheduler.AutoPresenceAt, c.Scheduler.LateFeeSweepAt} {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("config: scheduler time %q must be HH:MM", at)
		}
	}
	return nil
}
