package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type InstrumentationConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RetentionDays   int     `mapstructure:"retention_days"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
	BufferSize      int     `mapstructure:"buffer_size"`
	FlushIntervalMs int     `mapstructure:"flush_interval_ms"`
}

type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Persistence     PersistenceConfig     `mapstructure:"persistence"`
	Dispatcher      DispatcherConfig      `mapstructure:"dispatcher"`
	Gateway         GatewayConfig         `mapstructure:"gateway"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
	Metrics         MetricsConfig         `mapstructure:"metrics"`
	LogLevel        string                `mapstructure:"log_level"`
	SecretKey       string                `mapstructure:"secret_key"` // seals secrets at rest; empty = plaintext
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// PersistenceConfig selects where endpoint lists, provider registries and
// log snapshots are kept.
type PersistenceConfig struct {
	Driver        string `mapstructure:"driver"` // "sql", "redis" or "file"
	Path          string `mapstructure:"path"`   // directory for the file driver
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type DispatcherConfig struct {
	LogCapacity      int    `mapstructure:"log_capacity"`
	SnapshotSize     int    `mapstructure:"snapshot_size"`
	DefaultTimeoutMs int    `mapstructure:"default_timeout_ms"`
	RetryBaseMs      int    `mapstructure:"retry_base_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

type GatewayConfig struct {
	HealthCheckCron  string `mapstructure:"health_check_cron"`
	TestMaxTokens    int    `mapstructure:"test_max_tokens"`
	RequestTimeoutMs int    `mapstructure:"request_timeout_ms"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		if d.Name == ":memory:" {
			return "file::memory:?cache=shared"
		}
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "automation")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("persistence.driver", "sql")
	v.SetDefault("persistence.path", "./data/kv")
	v.SetDefault("persistence.redis_addr", "localhost:6379")
	v.SetDefault("persistence.redis_password", "")
	v.SetDefault("persistence.redis_db", 0)
	v.SetDefault("persistence.key_prefix", "automation:")
	v.SetDefault("dispatcher.log_capacity", 1000)
	v.SetDefault("dispatcher.snapshot_size", 100)
	v.SetDefault("dispatcher.default_timeout_ms", 30000)
	v.SetDefault("dispatcher.retry_base_ms", 1000)
	v.SetDefault("dispatcher.user_agent", "AutomationCore-Webhook/1.0")
	v.SetDefault("gateway.health_check_cron", "@every 30m")
	v.SetDefault("gateway.test_max_tokens", 10)
	v.SetDefault("gateway.request_timeout_ms", 60000)
	v.SetDefault("instrumentation.enabled", true)
	v.SetDefault("instrumentation.retention_days", 7)
	v.SetDefault("instrumentation.sampling_rate", 1.0)
	v.SetDefault("instrumentation.buffer_size", 500)
	v.SetDefault("instrumentation.flush_interval_ms", 100)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret_key", "")
}

// Load reads app.yaml (if present) and the environment. A missing config
// file is not an error; defaults and env vars still apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
