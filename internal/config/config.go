// ABOUTME: Configuration loading and parsing for directline-relay
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete directline-relay configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Bot           BotConfig           `yaml:"bot" toml:"bot"`
	Conversations ConversationsConfig `yaml:"conversations" toml:"conversations"`
	Store         StoreConfig         `yaml:"store" toml:"store"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the listen address and the URL clients reach us at
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// ServiceURL is stamped on activities and prefixes stream URLs.
	ServiceURL string `yaml:"service_url" toml:"service_url"`
}

// BotConfig holds the outbound bot endpoint
type BotConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ConversationsConfig holds conversation lifetime settings
type ConversationsConfig struct {
	ExpiresIn       time.Duration `yaml:"-" toml:"-"`
	CleanupInterval time.Duration `yaml:"-" toml:"-"`
	ExpiryThreshold time.Duration `yaml:"-" toml:"-"`
	Lenient         bool          `yaml:"lenient" toml:"lenient"`

	// Raw string values for unmarshaling
	ExpiresInRaw       string `yaml:"expires_in" toml:"expires_in"`
	CleanupIntervalRaw string `yaml:"cleanup_interval" toml:"cleanup_interval"`
	ExpiryThresholdRaw string `yaml:"expiry_threshold" toml:"expiry_threshold"`
}

// StoreConfig selects the storage backend
type StoreConfig struct {
	Type     string         `yaml:"type" toml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite" toml:"sqlite"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb" toml:"dynamodb"`
}

// SQLiteConfig holds the local database file location
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// RedisConfig holds Redis connection settings. URL wins over Host/Port.
type RedisConfig struct {
	URL      string `yaml:"url" toml:"url"`
	Host     string `yaml:"host" toml:"host"`
	Port     string `yaml:"port" toml:"port"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

// Addr returns host:port, defaulting the port to 6379.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return net.JoinHostPort(r.Host, port)
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	DSN      string `yaml:"dsn" toml:"dsn"`
	MaxConns int32  `yaml:"max_conns" toml:"max_conns"`
	MinConns int32  `yaml:"min_conns" toml:"min_conns"`
}

// DynamoDBConfig holds DynamoDB table settings
type DynamoDBConfig struct {
	Table    string `yaml:"table" toml:"table"`
	Region   string `yaml:"region" toml:"region"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
}

// AuthConfig holds Direct Line secret and token settings
type AuthConfig struct {
	// Secret enables bearer auth on client routes when set.
	Secret   string        `yaml:"secret" toml:"secret"`
	TokenTTL time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// Enabled reports whether client routes require credentials.
func (a AuthConfig) Enabled() bool {
	return a.Secret != ""
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration that runs a local relay on port 3000 in
// front of a bot on port 3978, with an in-memory store.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:   "127.0.0.1:3000",
			ServiceURL: "http://127.0.0.1:3000",
		},
		Bot: BotConfig{
			URL:     "http://127.0.0.1:3978/api/messages",
			Timeout: 30 * time.Second,
		},
		Conversations: ConversationsConfig{
			ExpiresIn:       1800 * time.Second,
			CleanupInterval: 10 * time.Second,
			ExpiryThreshold: 1800 * time.Second,
		},
		Store: StoreConfig{
			Type:   "memory",
			SQLite: SQLiteConfig{Path: "directline.db"},
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
		},
		Tailscale: TailscaleConfig{
			Hostname: "directline",
			StateDir: "tsnet-state",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file in the working directory is loaded first if present.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := decode(path, expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
// Environment overrides apply either way.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking config file: %w", err)
		}
	}
	_ = godotenv.Load()
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyEnvOverrides honors STORE_TYPE, REDIS_HOST and REDIS_PORT.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORE_TYPE"); v != "" {
		cfg.Store.Type = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Store.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		cfg.Store.Redis.Port = v
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

	if err := validateHTTPURL("server.service_url", c.Server.ServiceURL); err != nil {
		return err
	}
	if err := validateHTTPURL("bot.url", c.Bot.URL); err != nil {
		return err
	}

	if c.Conversations.CleanupInterval <= 0 {
		return fmt.Errorf("conversations.cleanup_interval must be positive")
	}
	if c.Conversations.ExpiryThreshold <= 0 {
		return fmt.Errorf("conversations.expiry_threshold must be positive")
	}

	switch strings.ToLower(c.Store.Type) {
	case "", "memory":
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite store")
		}
	case "redis":
		if c.Store.Redis.URL == "" && c.Store.Redis.Host == "" {
			return fmt.Errorf("store.redis.url or store.redis.host is required for the redis store")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres store")
		}
	case "dynamodb":
		if c.Store.DynamoDB.Table == "" {
			return fmt.Errorf("store.dynamodb.table is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("store.type %q is not one of memory, sqlite, redis, postgres, dynamodb", c.Store.Type)
	}

	if c.Auth.Enabled() && len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 bytes")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
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
		{"bot.timeout", cfg.Bot.TimeoutRaw, &cfg.Bot.Timeout},
		{"conversations.expires_in", cfg.Conversations.ExpiresInRaw, &cfg.Conversations.ExpiresIn},
		{"conversations.cleanup_interval", cfg.Conversations.CleanupIntervalRaw, &cfg.Conversations.CleanupInterval},
		{"conversations.expiry_threshold", cfg.Conversations.ExpiryThresholdRaw, &cfg.Conversations.ExpiryThreshold},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
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

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.Bot.TimeoutRaw = formatDuration(cfg.Bot.Timeout)
	out.Conversations.ExpiresInRaw = formatDuration(cfg.Conversations.ExpiresIn)
	out.Conversations.CleanupIntervalRaw = formatDuration(cfg.Conversations.CleanupInterval)
	out.Conversations.ExpiryThresholdRaw = formatDuration(cfg.Conversations.ExpiryThreshold)
	out.Auth.TokenTTLRaw = formatDuration(cfg.Auth.TokenTTL)

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
