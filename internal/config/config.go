// ABOUTME: Configuration loading and parsing for workroom-gateway
// ABOUTME: YAML or TOML files with .env loading, ${VAR} expansion, WORKROOM_* overrides and duration parsing

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/2389/workroom-gateway/internal/auth"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

// Config represents the complete workroom-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Presence  PresenceConfig  `yaml:"presence" toml:"presence"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	Messaging MessagingConfig `yaml:"messaging" toml:"messaging"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses. An empty grpc_addr disables the gRPC health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig selects the store. Path is used by the SQLite drivers, URL by postgres.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	URL    string `yaml:"url" toml:"url"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// PresenceConfig tunes real-time channels.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-" toml:"-"`
	SendBuffer        int           `yaml:"send_buffer" toml:"send_buffer"`

	// Raw string values for unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout" toml:"heartbeat_timeout"`
}

// RedisConfig enables cross-instance fan-out.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	Addr          string `yaml:"addr" toml:"addr"`
	Password      string `yaml:"password" toml:"password"`
	DB            int    `yaml:"db" toml:"db"`
	ChannelPrefix string `yaml:"channel_prefix" toml:"channel_prefix"`
}

// MessagingConfig tunes message submission and history paging.
type MessagingConfig struct {
	IdempotencyWindow     time.Duration `yaml:"-" toml:"-"`
	IdempotencyMaxEntries int           `yaml:"idempotency_max_entries" toml:"idempotency_max_entries"`
	DefaultPageSize       int           `yaml:"default_page_size" toml:"default_page_size"`
	MaxPageSize           int           `yaml:"max_page_size" toml:"max_page_size"`

	IdempotencyWindowRaw string `yaml:"idempotency_window" toml:"idempotency_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// envOverrides are read from WORKROOM_* variables after the file is parsed.
type envOverrides struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR"`
	DBDriver  string `envconfig:"DB_DRIVER"`
	DBPath    string `envconfig:"DB_PATH"`
	DBURL     string `envconfig:"DB_URL"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	LogLevel  string `envconfig:"LOG_LEVEL"`
}

// DefaultPath returns $WORKROOM_CONFIG, or gateway.yaml under the XDG config directory.
func DefaultPath() string {
	if p := os.Getenv("WORKROOM_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "workroom", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config or in the working directory is loaded first;
// variables already set in the environment win. ${VAR_NAME} references are
// expanded, WORKROOM_* overrides applied, defaults filled and the result validated.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration text. ext ".toml" selects TOML, anything else YAML.
// No environment handling, defaults or validation happen here.
func Parse(text, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(text, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewBufferString(text))
		dec.KnownFields(true)
		// An empty document decodes to io.EOF and means all defaults.
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	return &cfg, nil
}

// finish parses durations, fills defaults and validates.
func (c *Config) finish() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process("workroom", &o); err != nil {
		return err
	}
	if o.HTTPAddr != "" {
		cfg.Server.HTTPAddr = o.HTTPAddr
	}
	if o.DBDriver != "" {
		cfg.Database.Driver = o.DBDriver
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}
	if o.DBURL != "" {
		cfg.Database.URL = o.DBURL
	}
	if o.JWTSecret != "" {
		cfg.Auth.JWTSecret = o.JWTSecret
	}
	if o.RedisAddr != "" {
		cfg.Redis.Addr = o.RedisAddr
		cfg.Redis.Enabled = true
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills every optional field that is unset.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Tailscale.Enabled && c.Tailscale.StateDir == "" {
		c.Tailscale.StateDir = filepath.Join(filepath.Dir(DefaultPath()), "tailscale")
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Path == "" && c.Database.Driver != DriverPostgres {
		c.Database.Path = "workroom.db"
	}
	if c.Presence.HeartbeatInterval == 0 {
		c.Presence.HeartbeatInterval = 30 * time.Second
	}
	if c.Presence.HeartbeatTimeout == 0 {
		c.Presence.HeartbeatTimeout = 90 * time.Second
	}
	if c.Presence.SendBuffer == 0 {
		c.Presence.SendBuffer = 64
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "workroom"
	}
	if c.Messaging.IdempotencyWindow == 0 {
		c.Messaging.IdempotencyWindow = 10 * time.Minute
	}
	if c.Messaging.IdempotencyMaxEntries == 0 {
		c.Messaging.IdempotencyMaxEntries = 10000
	}
	if c.Messaging.DefaultPageSize == 0 {
		c.Messaging.DefaultPageSize = 50
	}
	if c.Messaging.MaxPageSize == 0 {
		c.Messaging.MaxPageSize = 200
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverSQLite3:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be one of sqlite, sqlite3, postgres (got %q)", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	if c.Presence.HeartbeatInterval < 0 || c.Presence.HeartbeatTimeout < 0 {
		return fmt.Errorf("presence heartbeat durations must be positive")
	}
	if c.Presence.HeartbeatTimeout <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence.heartbeat_timeout (%s) must exceed presence.heartbeat_interval (%s)",
			c.Presence.HeartbeatTimeout, c.Presence.HeartbeatInterval)
	}
	if c.Presence.SendBuffer < 0 {
		return fmt.Errorf("presence.send_buffer must not be negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Messaging.IdempotencyWindow < 0 {
		return fmt.Errorf("messaging.idempotency_window must be positive")
	}
	if c.Messaging.IdempotencyMaxEntries < 0 {
		return fmt.Errorf("messaging.idempotency_max_entries must not be negative")
	}
	if c.Messaging.DefaultPageSize < 0 || c.Messaging.MaxPageSize < 0 {
		return fmt.Errorf("messaging page sizes must not be negative")
	}
	if c.Messaging.DefaultPageSize > c.Messaging.MaxPageSize {
		return fmt.Errorf("messaging.default_page_size (%d) exceeds messaging.max_page_size (%d)",
			c.Messaging.DefaultPageSize, c.Messaging.MaxPageSize)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"presence.heartbeat_interval", cfg.Presence.HeartbeatIntervalRaw, &cfg.Presence.HeartbeatInterval},
		{"presence.heartbeat_timeout", cfg.Presence.HeartbeatTimeoutRaw, &cfg.Presence.HeartbeatTimeout},
		{"messaging.idempotency_window", cfg.Messaging.IdempotencyWindowRaw, &cfg.Messaging.IdempotencyWindow},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
