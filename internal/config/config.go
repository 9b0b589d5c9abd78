// Package config provides the runtime settings for the account and chat
// service: defaults, an optional YAML file overlay, environment overrides
// and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

const minSecretLength = 16

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds the token signing secret and lifetimes.
type AuthConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_token_ttl"`
}

// ChatConfig holds the broadcast channel limits.
type ChatConfig struct {
	MaxMessageSize int64           `yaml:"max_message_size"`
	SendBufferSize int             `yaml:"send_buffer_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// LogConfig selects the log level and output format (text or json).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the complete service configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Chat   ChatConfig   `yaml:"chat"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// Default returns a Config populated with development defaults.
// The default secret is for local use only and must be overridden in production.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: ":8080",
			AllowedOrigins: []string{
				"http://localhost",
				"http://localhost:8000",
				"http://localhost:8080",
				"http://localhost:3000",
				"http://localhost:3001",
				"http://localhost:4000",
				"http://localhost:19006",
			},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Secret:     "dev-secret-change-me-please",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Chat: ChatConfig{
			MaxMessageSize: 512,
			SendBufferSize: 256,
			RateLimit: RateLimitConfig{
				Burst:          5,
				RefillInterval: time.Second,
			},
		},
		Store: StoreConfig{
			Driver:    StoreMemory,
			RedisAddr: "localhost:6379",
			KeyPrefix: "gochat",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if any),
// then environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = parseOrigins(origins)
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		c.Server.ShutdownTimeout = parseDuration(v, c.Server.ShutdownTimeout)
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		c.Auth.Issuer = v
	}
	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		c.Auth.AccessTTL = parseDuration(v, c.Auth.AccessTTL)
	}
	if v := os.Getenv("REFRESH_TOKEN_TTL"); v != "" {
		c.Auth.RefreshTTL = parseDuration(v, c.Auth.RefreshTTL)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		c.Chat.MaxMessageSize = parseMaxMessageSize(maxSize, c.Chat.MaxMessageSize)
	}
	if v := os.Getenv("SEND_BUFFER_SIZE"); v != "" {
		c.Chat.SendBufferSize = parseIntValue(v, c.Chat.SendBufferSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		c.Chat.RateLimit.Burst = parseIntValue(burst, c.Chat.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		c.Chat.RateLimit.RefillInterval = parseRefillInterval(interval, c.Chat.RateLimit.RefillInterval)
	}

	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil && db >= 0 {
			c.Store.RedisDB = db
		}
	}
	if v := os.Getenv("REDIS_KEY_PREFIX"); v != "" {
		c.Store.KeyPrefix = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// sanitize replaces out-of-range values with defaults.
func (c *Config) sanitize() {
	def := Default()

	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Chat.MaxMessageSize <= 0 {
		c.Chat.MaxMessageSize = def.Chat.MaxMessageSize
	}
	if c.Chat.SendBufferSize <= 0 {
		c.Chat.SendBufferSize = def.Chat.SendBufferSize
	}
	if c.Chat.RateLimit.Burst <= 0 {
		c.Chat.RateLimit.Burst = def.Chat.RateLimit.Burst
	}
	if c.Chat.RateLimit.RefillInterval <= 0 {
		c.Chat.RateLimit.RefillInterval = def.Chat.RateLimit.RefillInterval
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	if len(c.Auth.Secret) < minSecretLength {
		return fmt.Errorf("auth secret must be at least %d characters", minSecretLength)
	}
	if c.Auth.AccessTTL <= 0 {
		return errors.New("access token ttl must be positive")
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		return errors.New("refresh token ttl must be longer than access token ttl")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("redis store requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts whole seconds ("2") or a Go duration ("500ms").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return parseDuration(value, defaultValue)
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
