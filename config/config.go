package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App AppConfig `mapstructure:"app"`

	// Document store
	Store    StoreConfig    `mapstructure:"store"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	HTTP HTTPConfig `mapstructure:"http"`

	// Bitly API and the refresh cycle
	Bitly   BitlyConfig   `mapstructure:"bitly"`
	Refresh RefreshConfig `mapstructure:"refresh"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// Production reports whether the app runs with production settings.
func (c AppConfig) Production() bool {
	return c.Env == "production"
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type PrometheusConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type HTTPConfig struct {
	Port               int    `mapstructure:"port"`
	CORSOrigin         string `mapstructure:"cors_origin"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
}

// BitlyConfig describes how the bitly API is reached.
type BitlyConfig struct {
	AccessToken    string        `mapstructure:"access_token"`
	BaseURL        string        `mapstructure:"base_url"`
	ShortPrefix    string        `mapstructure:"short_prefix"`
	SearchLimit    int           `mapstructure:"search_limit"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CallsPerMinute int           `mapstructure:"calls_per_minute"`
}

// RefreshConfig tunes staleness, dormancy and the retry policy.
type RefreshConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	PoolSize            int           `mapstructure:"pool_size"`
	Unit                string        `mapstructure:"unit"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	QuotaBackoff        time.Duration `mapstructure:"quota_backoff"`
	QuotaBackoffMax     time.Duration `mapstructure:"quota_backoff_max"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("sqlite.path", "historics.db")
	v.SetDefault("postgres.database", "bitly_historics")
	v.SetDefault("prometheus.port", 9090)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.rate_limit_per_minute", 120)

	v.SetDefault("bitly.base_url", "https://api-ssl.bitly.com")
	v.SetDefault("bitly.short_prefix", "http://bit.ly/")
	v.SetDefault("bitly.search_limit", 1000)
	v.SetDefault("bitly.timeout", 30*time.Second)
	v.SetDefault("bitly.calls_per_minute", 0)

	v.SetDefault("refresh.interval", time.Hour)
	v.SetDefault("refresh.inactivity_threshold", 5*24*time.Hour)
	v.SetDefault("refresh.pool_size", 10)
	v.SetDefault("refresh.unit", "hour")
	v.SetDefault("refresh.retry_delay", 100*time.Millisecond)
	v.SetDefault("refresh.quota_backoff", 10*time.Second)
	v.SetDefault("refresh.quota_backoff_max", 30*time.Minute)
	v.SetDefault("refresh.lock_ttl", 2*time.Hour)
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.env", "APP_ENV", "BITLY_HISTORICS_CONFIG")
	v.BindEnv("app.log_level", "LOG_LEVEL")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("sqlite.path", "SQLITE_PATH")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
	v.BindEnv("prometheus.enabled", "PROM_ENABLED")

	v.BindEnv("http.port", "HTTP_PORT")
	v.BindEnv("http.cors_origin", "HTTP_CORS_ORIGIN")

	// Bitly
	v.BindEnv("bitly.access_token", "BITLY_ACCESS_TOKEN")
	v.BindEnv("bitly.base_url", "BITLY_BASE_URL")
	v.BindEnv("bitly.calls_per_minute", "BITLY_CALLS_PER_MINUTE")
}
