// Package config provides configuration loading for the Draftline service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Draftline service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Git      GitConfig      `mapstructure:"git"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds proposal store configuration.
type DatabaseConfig struct {
	// Kind selects the store backend: "postgres" or "memory".
	Kind     string         `mapstructure:"kind"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a pgx connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// BrokerConfig holds message broker configuration.
type BrokerConfig struct {
	// Kind selects the transport: "memory" or "nats".
	Kind           string        `mapstructure:"kind"`
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	LogCapacity    int           `mapstructure:"log_capacity"`
}

// RedisConfig holds Redis settings for the processed-event dedup store.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// GitConfig holds git agent configuration.
type GitConfig struct {
	RepoPath          string `mapstructure:"repo_path"`
	IntegrationBranch string `mapstructure:"integration_branch"`
	FallbackBranch    string `mapstructure:"fallback_branch"`
	Remote            string `mapstructure:"remote"`
	AuthorName        string `mapstructure:"author_name"`
	AuthorEmail       string `mapstructure:"author_email"`
}

// AuditConfig holds decision signing configuration.
type AuditConfig struct {
	// SigningKey enables HMAC signatures on decision events when non-empty.
	SigningKey string `mapstructure:"signing_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.kind", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "draftline")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "draftline")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("broker.kind", "memory")
	v.SetDefault("broker.url", "nats://localhost:4222")
	v.SetDefault("broker.name", "draftline")
	v.SetDefault("broker.max_reconnects", -1)
	v.SetDefault("broker.reconnect_wait", "2s")
	v.SetDefault("broker.handler_timeout", "30s")
	v.SetDefault("broker.log_capacity", 1000)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("git.repo_path", "./workspace")
	v.SetDefault("git.integration_branch", "main")
	v.SetDefault("git.fallback_branch", "master")
	v.SetDefault("git.remote", "")
	v.SetDefault("git.author_name", "draftline-agent")
	v.SetDefault("git.author_email", "agent@draftline.local")

	v.SetDefault("audit.signing_key", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/draftline")
	}

	// Environment variables override (DRAFTLINE_SERVER_PORT, etc.)
	v.SetEnvPrefix("DRAFTLINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config - ignore file not found for defaults
	if err := v.ReadInConfig(); err != nil {
		// Only fail if a specific config path was given
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
