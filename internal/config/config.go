package config

import (
	"fmt"
	"strings"
	"time"

	"taskmail/internal/types"

	"github.com/spf13/viper"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mailer    MailerConfig    `mapstructure:"mailer"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Events    EventsConfig    `mapstructure:"events"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents the audit store database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, mysql, postgres
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// MailerConfig represents the transactional email provider configuration
type MailerConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig represents the per-identity send quota configuration
type RateLimitConfig struct {
	MaxPerHour int    `mapstructure:"max_per_hour"`
	MaxPerDay  int    `mapstructure:"max_per_day"`
	Strategy   string `mapstructure:"strategy"` // log, redis

	// CountFailed controls whether failed and rejected attempts consume
	// quota. Enabled by default as an anti-abuse measure.
	CountFailed bool `mapstructure:"count_failed"`

	Redis RedisConfig `mapstructure:"redis"`
}

// Limits returns the configured quota windows.
func (c RateLimitConfig) Limits() types.Limits {
	return types.Limits{
		MaxPerHour: c.MaxPerHour,
		MaxPerDay:  c.MaxPerDay,
	}
}

// RedisConfig represents the redis connection for strict admission control
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// EventsConfig represents the optional AMQP event fan-out configuration
type EventsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// APIConfig represents the API configuration
type APIConfig struct {
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig maps bearer tokens to identity ids. Identity resolution is an
// external concern; this static mapping is the minimal boundary contract.
type AuthConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Tokens  map[string]string `mapstructure:"tokens"` // token -> identity id
}

// LogConfig represents the logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig loads configuration from file with environment overrides
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("rate_limit.count_failed", true)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The API key only arrives via environment in most deployments
	if config.Mailer.APIKey == "" {
		config.Mailer.APIKey = v.GetString("mailer.api_key")
	}

	setDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults(config *Config) {
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 30 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 30 * time.Second
	}

	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite"
	}
	if config.Database.DSN == "" && config.Database.Driver == "sqlite" {
		config.Database.DSN = "data/taskmail.db"
	}
	if config.Database.QueryTimeout == 0 {
		config.Database.QueryTimeout = 10 * time.Second
	}
	if config.Database.MigrationsPath == "" {
		config.Database.MigrationsPath = "migrations"
	}

	if config.Mailer.Endpoint == "" {
		config.Mailer.Endpoint = "https://api.resend.com/emails"
	}
	if config.Mailer.From == "" {
		config.Mailer.From = "Taskmail <notifications@taskmail.app>"
	}
	if config.Mailer.Timeout == 0 {
		config.Mailer.Timeout = 15 * time.Second
	}

	if config.RateLimit.MaxPerHour == 0 {
		config.RateLimit.MaxPerHour = 10
	}
	if config.RateLimit.MaxPerDay == 0 {
		config.RateLimit.MaxPerDay = 50
	}
	if config.RateLimit.Strategy == "" {
		config.RateLimit.Strategy = "log"
	}

	if config.Events.Exchange == "" {
		config.Events.Exchange = "taskmail.notifications"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.MaxSize == 0 {
		config.Log.MaxSize = 100
	}
	if config.Log.MaxBackups == 0 {
		config.Log.MaxBackups = 3
	}
	if config.Log.MaxAge == 0 {
		config.Log.MaxAge = 28
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	switch config.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", config.Database.Driver)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	// Absence of the provider key is a fatal startup error: every send
	// would fail authentication anyway.
	if config.Mailer.APIKey == "" {
		return fmt.Errorf("mailer api key is required (set TASKMAIL_MAILER_API_KEY)")
	}

	if config.RateLimit.MaxPerHour <= 0 {
		return fmt.Errorf("rate_limit.max_per_hour must be positive")
	}
	if config.RateLimit.MaxPerDay <= 0 {
		return fmt.Errorf("rate_limit.max_per_day must be positive")
	}

	switch config.RateLimit.Strategy {
	case "log", "redis":
	default:
		return fmt.Errorf("unsupported rate limit strategy: %s", config.RateLimit.Strategy)
	}
	if config.RateLimit.Strategy == "redis" && config.RateLimit.Redis.Addr == "" {
		return fmt.Errorf("rate_limit.redis.addr is required for redis strategy")
	}

	if config.Events.Enabled && config.Events.URL == "" {
		return fmt.Errorf("events.url is required when events are enabled")
	}

	switch config.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	return nil
}
