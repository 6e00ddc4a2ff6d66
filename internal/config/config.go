// Package config provides configuration management for the allocator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/allocator/internal/scheduler"
)

// Config holds all configuration for the application.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Allocator AllocatorConfig `mapstructure:"allocator"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// URL returns the PostgreSQL connection URL.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AllocatorConfig holds the placement tunables and how callers retry.
type AllocatorConfig struct {
	scheduler.Config `mapstructure:",squash"`

	// TunablesKey is the etcd key holding operator overrides. Empty disables
	// the lookup.
	TunablesKey  string        `mapstructure:"tunables_key"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("LIMIQUANTIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Allocator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid allocator config: %w", err)
	}
	if cfg.Allocator.MaxAttempts < 1 {
		return nil, fmt.Errorf("invalid allocator config: max_attempts must be at least 1, got %d",
			cfg.Allocator.MaxAttempts)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := scheduler.DefaultConfig()

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "limiquantix")
	v.SetDefault("database.user", "limiquantix")
	v.SetDefault("database.password", "limiquantix")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "events:placement")

	// Allocator
	v.SetDefault("allocator.target_host_utilization", defaults.TargetHostUtilization)
	v.SetDefault("allocator.max_random_score", defaults.MaxRandomScore)
	v.SetDefault("allocator.key_wrapping_algorithm", defaults.KeyWrappingAlgorithm)
	v.SetDefault("allocator.tunables_key", "")
	v.SetDefault("allocator.max_attempts", 3)
	v.SetDefault("allocator.retry_backoff", "200ms")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}
