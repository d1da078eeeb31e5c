package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/safety/internal/platform/db"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RedisURL        string `mapstructure:"REDIS_URL"`
	RedisLockPrefix string `mapstructure:"REDIS_LOCK_PREFIX"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant  string `mapstructure:"DEFAULT_TENANT"`

	CheckIntervalMS            int64 `mapstructure:"CHECK_INTERVAL_MS"`
	CleanupIntervalMS          int64 `mapstructure:"CLEANUP_INTERVAL_MS"`
	RetentionHours             int   `mapstructure:"RETENTION_HOURS"`
	BatchSize                  int   `mapstructure:"BATCH_SIZE"`
	MaxAlertsPerCleanupRun     int   `mapstructure:"MAX_ALERTS_PER_CLEANUP_RUN"`
	MedicationDueWindowMinutes int   `mapstructure:"MEDICATION_DUE_WINDOW_MINUTES"`
	RequestTimeoutMS           int64 `mapstructure:"REQUEST_TIMEOUT_MS"`

	// Tenants evaluated and cleaned by the periodic tasks. Empty means one
	// unscoped pass.
	Tenants []string `mapstructure:"-"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REDIS_LOCK_PREFIX",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "DEFAULT_TENANT",
	"CHECK_INTERVAL_MS", "CLEANUP_INTERVAL_MS", "RETENTION_HOURS", "BATCH_SIZE",
	"MAX_ALERTS_PER_CLEANUP_RUN", "MEDICATION_DUE_WINDOW_MINUTES", "REQUEST_TIMEOUT_MS",
	"TENANTS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REDIS_LOCK_PREFIX", "safety:lock:")
	v.SetDefault("CHECK_INTERVAL_MS", 900000)
	v.SetDefault("CLEANUP_INTERVAL_MS", 7200000)
	v.SetDefault("RETENTION_HOURS", 24)
	v.SetDefault("BATCH_SIZE", 50)
	v.SetDefault("MAX_ALERTS_PER_CLEANUP_RUN", 10000)
	v.SetDefault("MEDICATION_DUE_WINDOW_MINUTES", 60)
	v.SetDefault("REQUEST_TIMEOUT_MS", 15000)
	v.SetDefault("TENANTS", "")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Tenants = splitList(v.GetString("TENANTS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMS) * time.Millisecond
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMS) * time.Millisecond
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *Config) MedicationDueWindow() time.Duration {
	return time.Duration(c.MedicationDueWindowMinutes) * time.Minute
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// TenantsOrUnscoped is the list the periodic tasks iterate over.
func (c *Config) TenantsOrUnscoped() []string {
	if len(c.Tenants) == 0 {
		return []string{""}
	}
	return c.Tenants
}

// Validate rejects configurations the periodic tasks or the auth layer
// cannot run with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"CHECK_INTERVAL_MS", c.CheckIntervalMS},
		{"CLEANUP_INTERVAL_MS", c.CleanupIntervalMS},
		{"RETENTION_HOURS", int64(c.RetentionHours)},
		{"BATCH_SIZE", int64(c.BatchSize)},
		{"MAX_ALERTS_PER_CLEANUP_RUN", int64(c.MaxAlertsPerCleanupRun)},
		{"MEDICATION_DUE_WINDOW_MINUTES", int64(c.MedicationDueWindowMinutes)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	for _, t := range append(append([]string{}, c.Tenants...), c.DefaultTenant) {
		if t != "" && !db.ValidTenantID(t) {
			return fmt.Errorf("invalid tenant id %q", t)
		}
	}
	return nil
}
