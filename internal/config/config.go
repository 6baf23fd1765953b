// Package config loads daemon configuration from a YAML file and/or the
// environment, with environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every daemon-wide setting. Fields map 1:1 to the recognized
// environment inputs, plus the YAML equivalents for file-based deploys.
type Config struct {
	DatabaseURL  string `yaml:"database_url"`
	Debug        bool   `yaml:"debug"`
	DBPoolSize   int    `yaml:"db_pool_size"`
	DBMaxOverflow int   `yaml:"db_max_overflow"`
	AppHost      string `yaml:"app_host"`
	AppPort      int    `yaml:"app_port"`
	CORSOrigins  []string `yaml:"cors_origins"`

	ESXIUsername string `yaml:"esxi_username"`
	ESXIPassword string `yaml:"esxi_password"`
	SecretKey    string `yaml:"secret_key"`

	// SecretBackend selects the internal/secrets implementation: "memory"
	// (default, plaintext-equivalent — fine for local/dev, not production)
	// or "vault".
	SecretBackend string       `yaml:"secret_backend"`
	Vault         *VaultConfig `yaml:"vault"`

	HypervisorTimeout time.Duration `yaml:"hypervisor_timeout"`
	HypervisorRetries int           `yaml:"hypervisor_retry_attempts"`
	HypervisorRetryDelay time.Duration `yaml:"hypervisor_retry_delay"`
	Insecure          bool          `yaml:"insecure"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// ReconcileSchedule is an optional cron expression for a periodic
	// full-fleet reconcile; empty disables the scheduler.
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

// VaultConfig configures the optional Vault-backed SecretStore.
type VaultConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Mount   string `yaml:"mount"`
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// FromEnvironment builds a Config purely from environment variables,
// applying the same defaults the HTTP daemon uses when no file is given.
func FromEnvironment() *Config {
	poolSize, _ := strconv.Atoi(getEnv("DB_POOL_SIZE", "10"))
	maxOverflow, _ := strconv.Atoi(getEnv("DB_MAX_OVERFLOW", "20"))
	appPort, _ := strconv.Atoi(getEnv("APP_PORT", "8000"))
	debug := getEnv("DEBUG", "False") == "True" || getEnv("DEBUG", "") == "true"

	return &Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Debug:                debug,
		DBPoolSize:           poolSize,
		DBMaxOverflow:        maxOverflow,
		AppHost:              getEnv("APP_HOST", "0.0.0.0"),
		AppPort:              appPort,
		CORSOrigins:          splitNonEmpty(os.Getenv("CORS_ORIGINS")),
		ESXIUsername:         os.Getenv("ESXI_USER"),
		ESXIPassword:         os.Getenv("ESXI_PASSWORD"),
		SecretKey:            os.Getenv("SECRET_KEY"),
		SecretBackend:        getEnv("SECRET_BACKEND", "memory"),
		HypervisorTimeout:    30 * time.Second,
		HypervisorRetries:    3,
		HypervisorRetryDelay: 2 * time.Second,
		Insecure:             true,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "text"),
	}
}

// FromFile loads a Config from a YAML file and applies defaults to any
// zero-valued field, the way the teacher's config loader does.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AppHost == "" {
		cfg.AppHost = "0.0.0.0"
	}
	if cfg.AppPort == 0 {
		cfg.AppPort = 8000
	}
	if cfg.DBPoolSize == 0 {
		cfg.DBPoolSize = 10
	}
	if cfg.DBMaxOverflow == 0 {
		cfg.DBMaxOverflow = 20
	}
	if cfg.SecretBackend == "" {
		cfg.SecretBackend = "memory"
	}
	if cfg.HypervisorTimeout == 0 {
		cfg.HypervisorTimeout = 30 * time.Second
	}
	if cfg.HypervisorRetries == 0 {
		cfg.HypervisorRetries = 3
	}
	if cfg.HypervisorRetryDelay == 0 {
		cfg.HypervisorRetryDelay = 2 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

// MergeWithEnv overlays any environment variable that is set on top of a
// file-loaded Config, env taking precedence — the same precedence order
// the teacher's cmd/hypervisord entrypoint applies.
func (c *Config) MergeWithEnv() *Config {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug = v == "True" || v == "true"
	}
	if v := os.Getenv("DB_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DBPoolSize = n
		}
	}
	if v := os.Getenv("DB_MAX_OVERFLOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DBMaxOverflow = n
		}
	}
	if v := os.Getenv("APP_HOST"); v != "" {
		c.AppHost = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AppPort = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitNonEmpty(v)
	}
	if v := os.Getenv("ESXI_USER"); v != "" {
		c.ESXIUsername = v
	}
	if v := os.Getenv("ESXI_PASSWORD"); v != "" {
		c.ESXIPassword = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		c.SecretKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("SECRET_BACKEND"); v != "" {
		c.SecretBackend = v
	}
	return c
}

// Validate enforces the one hard startup precondition: SECRET_KEY must
// be present and at least 16 characters.
func (c *Config) Validate() error {
	if len(c.SecretKey) < 16 {
		return fmt.Errorf("SECRET_KEY must be at least 16 characters (got %d)", len(c.SecretKey))
	}
	return nil
}

// splitNonEmpty splits a comma-separated env var the way the original's
// CORS_ORIGINS.split(",") does, dropping blank segments.
func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
