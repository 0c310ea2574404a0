// Package config provides configuration management for Raworc.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Raworc.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// URL selects the backend by scheme: sqlite://path or postgres://...
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
}

// SandboxConfig holds the per-session container defaults.
type SandboxConfig struct {
	Image       string  `mapstructure:"image"`
	CPULimit    float64 `mapstructure:"cpuLimit"`    // CPUs
	MemoryLimit int64   `mapstructure:"memoryLimit"` // bytes
	DiskLimit   int64   `mapstructure:"diskLimit"`   // bytes
	Network     string  `mapstructure:"network"`     // empty uses the engine default
	VolumesPath string  `mapstructure:"volumesPath"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// IsPostgres reports whether the database URL points at PostgreSQL.
func (d *DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(d.URL, "postgres://") || strings.HasPrefix(d.URL, "postgresql://")
}

// SQLitePath returns the filesystem path for a sqlite:// database URL.
func (d *DatabaseConfig) SQLitePath() string {
	path := strings.TrimPrefix(d.URL, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")
	return path
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("RAWORC_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.url", "sqlite://raworc.db")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "raworc-server")
	v.SetDefault("nats.maxReconnects", 10)

	// Docker defaults
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "1.41")

	// Sandbox defaults
	v.SetDefault("sandbox.image", "python:3.11-slim")
	v.SetDefault("sandbox.cpuLimit", 0.5)
	v.SetDefault("sandbox.memoryLimit", int64(512*1024*1024))
	v.SetDefault("sandbox.diskLimit", int64(1024*1024*1024))
	v.SetDefault("sandbox.network", "")
	v.SetDefault("sandbox.volumesPath", "/var/lib/raworc/volumes")

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 86400) // 24 hours

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix RAWORC_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/raworc/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("RAWORC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the unprefixed operator-facing env vars.
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("auth.jwtSecret", "JWT_SECRET")
	_ = v.BindEnv("server.host", "RAWORC_HOST")
	_ = v.BindEnv("server.port", "RAWORC_PORT")
	_ = v.BindEnv("sandbox.image", "HOST_AGENT_IMAGE")
	_ = v.BindEnv("sandbox.cpuLimit", "HOST_AGENT_CPU_LIMIT")
	_ = v.BindEnv("sandbox.memoryLimit", "HOST_AGENT_MEMORY_LIMIT")
	_ = v.BindEnv("sandbox.diskLimit", "HOST_AGENT_DISK_LIMIT")
	_ = v.BindEnv("sandbox.network", "HOST_AGENT_NETWORK")
	_ = v.BindEnv("sandbox.volumesPath", "HOST_AGENT_VOLUMES_PATH")
	_ = v.BindEnv("nats.url", "NATS_URL")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/raworc/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.URL == "" {
		errs = append(errs, "database.url is required (set DATABASE_URL)")
	} else if cfg.Database.IsPostgres() {
		if _, err := url.Parse(cfg.Database.URL); err != nil {
			errs = append(errs, fmt.Sprintf("database.url is not a valid URL: %v", err))
		}
	} else if !strings.HasPrefix(cfg.Database.URL, "sqlite:") {
		errs = append(errs, "database.url must use the sqlite:// or postgres:// scheme")
	}

	if cfg.Sandbox.CPULimit <= 0 {
		errs = append(errs, "sandbox.cpuLimit must be positive")
	}
	if cfg.Sandbox.MemoryLimit <= 0 {
		errs = append(errs, "sandbox.memoryLimit must be positive")
	}
	if cfg.Sandbox.VolumesPath == "" {
		errs = append(errs, "sandbox.volumesPath is required")
	}

	// Auth validation - generate random secret if not set (dev mode)
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret returns a random signing secret for development use.
// Tokens will not survive a restart; production deployments must set JWT_SECRET.
func generateDevSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "raworc-dev-secret"
	}
	return hex.EncodeToString(buf)
}
