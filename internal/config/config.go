package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	API     APIConfig     `mapstructure:"api"`
	Devices DevicesConfig `mapstructure:"devices"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type   string       `mapstructure:"type"` // "memory", "sqlite", or "redis"
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// SQLiteConfig defines SQLite backend settings
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig defines Redis backend settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// APIConfig defines API surface settings
type APIConfig struct {
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	StreamInterval string          `mapstructure:"stream_interval"`
}

// RateLimitConfig defines per-client request limiting
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	MaxClients        int  `mapstructure:"max_clients"`
}

// DevicesConfig defines the device registry seed
type DevicesConfig struct {
	Seed []DeviceSeed `mapstructure:"seed"`
}

// DeviceSeed defines one seeded device
type DeviceSeed struct {
	ID          string  `mapstructure:"id"`
	Name        string  `mapstructure:"name"`
	MBPerMinute float64 `mapstructure:"mb_per_minute"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SESSIONMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.sqlite.path", "/var/lib/sessionmeter/sessionmeter.db")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("api.rate_limit.enabled", true)
	v.SetDefault("api.rate_limit.requests_per_minute", 300)
	v.SetDefault("api.rate_limit.burst", 30)
	v.SetDefault("api.rate_limit.max_clients", 1024)
	v.SetDefault("api.stream_interval", "1s")

	v.SetDefault("devices.seed", []map[string]any{
		{"id": "dev-a", "name": "Device A", "mb_per_minute": 3.0},
		{"id": "dev-b", "name": "Device B", "mb_per_minute": 2.0},
		{"id": "dev-c", "name": "Device C", "mb_per_minute": 4.0},
	})
}

// Validate checks configuration consistency
func Validate(config *Config) error {
	if config.Server.HTTPPort <= 0 || config.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", config.Server.HTTPPort)
	}
	if config.Server.MetricsPort <= 0 || config.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port out of range: %d", config.Server.MetricsPort)
	}

	switch config.Storage.Type {
	case "memory":
	case "sqlite":
		if config.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite backend")
		}
	case "redis":
		if config.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage type: %q (must be memory, sqlite, or redis)", config.Storage.Type)
	}

	switch config.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level: %q", config.Logging.Level)
	}

	if _, err := time.ParseDuration(config.API.StreamInterval); err != nil {
		return fmt.Errorf("invalid api.stream_interval: %w", err)
	}

	if len(config.Devices.Seed) == 0 {
		return fmt.Errorf("devices.seed must not be empty")
	}
	seen := make(map[string]bool, len(config.Devices.Seed))
	for _, seed := range config.Devices.Seed {
		if seed.ID == "" {
			return fmt.Errorf("devices.seed entry missing id")
		}
		if seen[seed.ID] {
			return fmt.Errorf("duplicate device seed id: %s", seed.ID)
		}
		seen[seed.ID] = true
		if seed.MBPerMinute <= 0 {
			return fmt.Errorf("device seed %s: mb_per_minute must be positive", seed.ID)
		}
	}

	return nil
}
