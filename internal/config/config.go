package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"

	"CrmSync/internal/model"
)

// MaxCRMPageSize is the largest page the CRM list and search endpoints accept.
const MaxCRMPageSize = 100

// MaxCRMBatchSize is the largest input list the association batch-read endpoint accepts.
const MaxCRMBatchSize = 100

// Config mirrors config/config.yaml.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	CRM         CRMConfig         `mapstructure:"crm"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Attribution AttributionConfig `mapstructure:"attribution"`
}

// ServerConfig configures the trigger/status HTTP surface.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug/release/test
}

// DatabaseConfig configures the mirror store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent/error/warn/info
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text/json
}

// CRMConfig configures the upstream CRM client.
type CRMConfig struct {
	Provider             string        `mapstructure:"provider"`
	BaseURL              string        `mapstructure:"base_url"`
	AccessToken          string        `mapstructure:"access_token"`
	Timeout              int           `mapstructure:"timeout"` // seconds
	Proxy                string        `mapstructure:"proxy"`
	PageSize             int           `mapstructure:"page_size"`
	BatchSize            int           `mapstructure:"batch_size"`
	BatchConcurrency     int           `mapstructure:"batch_concurrency"`
	RequestsPerSecond    float64       `mapstructure:"requests_per_second"`
	Burst                int           `mapstructure:"burst"`
	RetryCount           int           `mapstructure:"retry_count"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
}

// SyncConfig configures scheduling and run bookkeeping.
type SyncConfig struct {
	Cron          string        `mapstructure:"cron"`
	ObjectTypes   []string      `mapstructure:"object_types"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	OverlapWindow time.Duration `mapstructure:"overlap_window"`
	StaleRunAfter time.Duration `mapstructure:"stale_run_after"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
}

type AttributionConfig struct {
	DefaultCountryCode string   `mapstructure:"default_country_code"`
	ClosedStages       []string `mapstructure:"closed_stages"`
}

// LoadConfig reads ./config/config.yaml; .env and the process environment override secrets.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("./config")
}

// LoadConfigFrom reads config.yaml from dir.
func LoadConfigFrom(dir string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("crm.provider", "hubspot")
	v.SetDefault("crm.base_url", "https://api.hubapi.com")
	v.SetDefault("crm.timeout", 30)
	v.SetDefault("crm.page_size", MaxCRMPageSize)
	v.SetDefault("crm.batch_size", MaxCRMBatchSize)
	v.SetDefault("crm.batch_concurrency", 2)
	v.SetDefault("crm.requests_per_second", 9)
	v.SetDefault("crm.burst", 1)
	v.SetDefault("crm.retry_count", 5)
	v.SetDefault("crm.retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("crm.retry_max_interval", 30*time.Second)
	v.SetDefault("sync.cron", "*/15 * * * *")
	v.SetDefault("sync.object_types", []string{"contacts", "calls", "deals"})
	v.SetDefault("sync.run_timeout", 20*time.Minute)
	v.SetDefault("sync.overlap_window", 5*time.Minute)
	v.SetDefault("sync.stale_run_after", time.Hour)
	v.SetDefault("attribution.default_country_code", "1")
	v.SetDefault("attribution.closed_stages", []string{"closedwon"})
}

// overrideFromEnv lets secrets stay out of config.yaml.
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("CRM_ACCESS_TOKEN"); v != "" {
		cfg.CRM.AccessToken = v
	}
	if v := os.Getenv("CRM_PROXY"); v != "" {
		cfg.CRM.Proxy = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}

// Validate rejects configurations the sync engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CRM.BaseURL) == "" {
		return fmt.Errorf("crm.base_url is required")
	}
	if c.CRM.PageSize <= 0 || c.CRM.PageSize > MaxCRMPageSize {
		return fmt.Errorf("crm.page_size must be between 1 and %d, got %d", MaxCRMPageSize, c.CRM.PageSize)
	}
	if c.CRM.BatchSize <= 0 || c.CRM.BatchSize > MaxCRMBatchSize {
		return fmt.Errorf("crm.batch_size must be between 1 and %d, got %d", MaxCRMBatchSize, c.CRM.BatchSize)
	}
	if c.CRM.RequestsPerSecond <= 0 {
		return fmt.Errorf("crm.requests_per_second must be positive")
	}
	if c.CRM.RetryCount < 0 {
		return fmt.Errorf("crm.retry_count must not be negative")
	}
	if len(c.Sync.ObjectTypes) == 0 {
		return fmt.Errorf("sync.object_types must not be empty")
	}
	for _, t := range c.Sync.ObjectTypes {
		if !model.ObjectType(t).Valid() {
			return fmt.Errorf("sync.object_types: unknown object type %q", t)
		}
	}
	if c.Sync.Cron != "" {
		if _, err := cron.ParseStandard(c.Sync.Cron); err != nil {
			return fmt.Errorf("sync.cron: %w", err)
		}
	}
	if c.Sync.RunTimeout <= 0 {
		return fmt.Errorf("sync.run_timeout must be positive")
	}
	// a live run must never look stale to another acquirer
	if c.Sync.StaleRunAfter > 0 && c.Sync.StaleRunAfter <= c.Sync.RunTimeout {
		return fmt.Errorf("sync.stale_run_after (%s) must exceed sync.run_timeout (%s)", c.Sync.StaleRunAfter, c.Sync.RunTimeout)
	}
	if c.Sync.OverlapWindow < 0 {
		return fmt.Errorf("sync.overlap_window must not be negative")
	}
	return nil
}

// ObjectTypeList returns the configured object types in their typed form.
func (s SyncConfig) ObjectTypeList() []model.ObjectType {
	out := make([]model.ObjectType, 0, len(s.ObjectTypes))
	for _, t := range s.ObjectTypes {
		out = append(out, model.ObjectType(t))
	}
	return out
}

// GormLogLevel maps database.log_level onto gorm's logger levels.
func (d DatabaseConfig) GormLogLevel() logger.LogLevel {
	switch strings.ToLower(d.LogLevel) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
