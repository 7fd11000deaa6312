package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains profile store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig maps bearer tokens to user IDs.
type AuthConfig struct {
	Tokens map[string]string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LedgerConfig contains likes ledger settings.
type LedgerConfig struct {
	MaxPerCategory  int      `yaml:"max_per_category"`
	SnapshotTTL     Duration `yaml:"snapshot_ttl"`
	ConflictRetries int      `yaml:"conflict_retries"`
	SweepInterval   Duration `yaml:"sweep_interval"`
}

// RateLimitConfig contains per-operation-class fixed window limits.
type RateLimitConfig struct {
	Read  WindowConfig `yaml:"read"`
	Write WindowConfig `yaml:"write"`
}

// WindowConfig is a single fixed window limit.
type WindowConfig struct {
	Limit  int      `yaml:"limit"`
	Window Duration `yaml:"window"`
}

// CORSConfig contains the cross-origin allow-list.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → .env → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// .env files only fill variables that are not already set
	_ = godotenv.Load(".env")

	configPath := getEnv("LEDGER_CONFIG_PATH", "config/ledgersync.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabaseConfig resolves only the database section.
// Admin commands use it so they do not need auth tokens configured.
func LoadDatabaseConfig() (DatabaseConfig, error) {
	cfg := newDefaults()
	_ = godotenv.Load(".env")
	if err := loadYAMLFile(cfg, getEnv("LEDGER_CONFIG_PATH", "config/ledgersync.yaml")); err != nil {
		return DatabaseConfig{}, err
	}
	if v := os.Getenv("LEDGER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	return cfg.Database, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/ledgersync.db",
		},
		Auth: AuthConfig{
			Tokens: map[string]string{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			MaxPerCategory:  500,
			SnapshotTTL:     Duration(5 * time.Minute),
			ConflictRetries: 3,
			SweepInterval:   Duration(time.Minute),
		},
		RateLimit: RateLimitConfig{
			Read:  WindowConfig{Limit: 120, Window: Duration(time.Minute)},
			Write: WindowConfig{Limit: 30, Window: Duration(time.Minute)},
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values. Malformed auth tokens are an error
// because silently dropping them would lock users out.
func applyEnvOverrides(cfg *Config) error {
	// Server
	if v := os.Getenv("LEDGER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LEDGER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LEDGER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LEDGER_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("LEDGER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Auth
	if v := os.Getenv("LEDGER_AUTH_TOKENS"); v != "" {
		tokens, err := parseTokens(v)
		if err != nil {
			return err
		}
		cfg.Auth.Tokens = tokens
	}

	// Log
	if v := os.Getenv("LEDGER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LEDGER_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Ledger
	if v := os.Getenv("LEDGER_MAX_PER_CATEGORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.MaxPerCategory = n
		}
	}
	if v := os.Getenv("LEDGER_SNAPSHOT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.SnapshotTTL = Duration(d)
		}
	}
	if v := os.Getenv("LEDGER_CONFLICT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.ConflictRetries = n
		}
	}

	if v := os.Getenv("LEDGER_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.SweepInterval = Duration(d)
		}
	}

	// Rate limits
	if v := os.Getenv("LEDGER_READ_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Read.Limit = n
		}
	}
	if v := os.Getenv("LEDGER_WRITE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Write.Limit = n
		}
	}
	if v := os.Getenv("LEDGER_RATE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.Read.Window = Duration(d)
			cfg.RateLimit.Write.Window = Duration(d)
		}
	}

	// CORS
	if v := os.Getenv("LEDGER_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}

	return nil
}

// parseTokens parses "token:user,token:user" pairs.
func parseTokens(v string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, ":")
		token, userID = strings.TrimSpace(token), strings.TrimSpace(userID)
		if !ok || token == "" || userID == "" {
			return nil, errors.New("LEDGER_AUTH_TOKENS must be token:user pairs separated by commas")
		}
		tokens[token] = userID
	}
	return tokens, nil
}

// validate checks that required configuration values are set.
// In dev mode (LEDGER_DEV_MODE=true), the auth token check is skipped.
func (c *Config) validate() error {
	if c.RateLimit.Read.Limit < 1 || c.RateLimit.Write.Limit < 1 {
		return errors.New("rate limits must be >= 1")
	}
	if c.RateLimit.Read.Window <= 0 || c.RateLimit.Write.Window <= 0 {
		return errors.New("rate limit windows must be positive")
	}
	if c.Ledger.SweepInterval <= 0 {
		return errors.New("ledger sweep_interval must be positive")
	}
	if c.Ledger.MaxPerCategory < 1 {
		return errors.New("ledger max_per_category must be >= 1")
	}
	for _, o := range c.CORS.AllowedOrigins {
		if o == "*" {
			return errors.New("cors allowed_origins must list explicit origins, not *")
		}
	}

	if os.Getenv("LEDGER_DEV_MODE") == "true" {
		return nil
	}

	if len(c.Auth.Tokens) == 0 {
		return errors.New("LEDGER_AUTH_TOKENS is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
