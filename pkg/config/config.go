// Package config loads server configuration from a YAML file with
// environment-variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Bus     BusConfig     `yaml:"bus"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	BindAddress    string   `yaml:"bind_address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig controls token issuance and verification.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	MaxTokenTTL time.Duration `yaml:"max_token_ttl"`
}

// StorageConfig controls the sqlite project store.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// RedisConfig controls the revocation blacklist backend.
// An empty URL selects the in-memory store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BusConfig controls the relay transport.
// An empty URL selects the in-memory bus (single node).
type BusConfig struct {
	URL string `yaml:"url"`
}

// SandboxConfig controls project execution.
type SandboxConfig struct {
	ScratchDir  string `yaml:"scratch_dir"`
	PreviewPort int    `yaml:"preview_port"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Default returns a config with sensible defaults for local development.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BindAddress:    "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Auth: AuthConfig{
			TokenTTL:    time.Hour,
			MaxTokenTTL: time.Hour,
		},
		Storage: StorageConfig{
			DBPath: "devmate.db",
		},
		Sandbox: SandboxConfig{
			PreviewPort: 3000,
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Load reads the config file at path, falling back to defaults when path is
// empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DEVMATE_BIND_ADDRESS"); v != "" {
		c.Server.BindAddress = v
	}
	if v := os.Getenv("DEVMATE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("DEVMATE_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("DEVMATE_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("DEVMATE_NATS_URL"); v != "" {
		c.Bus.URL = v
	}
	if v := os.Getenv("DEVMATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set DEVMATE_JWT_SECRET)")
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Auth.MaxTokenTTL < c.Auth.TokenTTL {
		c.Auth.MaxTokenTTL = c.Auth.TokenTTL
	}
	if strings.TrimSpace(c.Server.BindAddress) == "" {
		return fmt.Errorf("server.bind_address is required")
	}
	return nil
}
