package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-interpreter-relay/pkg/logging"
)

// EnvPrefix is the prefix of environment overrides, e.g. INTERP_SERVER_ADMIN_PORT
const EnvPrefix = "INTERP"

// Config represents the bootstrap configuration. The runtime settings
// (languages, ports of the managed listeners, password) live in the
// settings store instead.
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Storage       StorageConfig       `yaml:"storage" envconfig:"STORAGE"`
	Logging       logging.Config      `yaml:"logging" envconfig:"LOGGING"`
	CORS          CORSConfig          `yaml:"cors" envconfig:"CORS"`
	AuthRateLimit AuthRateLimitConfig `yaml:"auth_rate_limit" envconfig:"AUTH_RATE_LIMIT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host       string `yaml:"host" envconfig:"HOST"`               // Listen host of the managed http/https listeners
	AdminHost  string `yaml:"admin_host" envconfig:"ADMIN_HOST"`   // Listen host of the admin API
	AdminPort  int    `yaml:"admin_port" envconfig:"ADMIN_PORT"`   // Admin API port (0 to disable)
	AdminToken string `yaml:"admin_token" envconfig:"ADMIN_TOKEN"` // Bearer token for admin API (auto-generated if empty)
	StaticDir  string `yaml:"static_dir" envconfig:"STATIC_DIR"`   // Optional directory of browser client assets
	// SessionMaxAgeMinutes is the lifetime of the interpreter session cookie
	SessionMaxAgeMinutes int `yaml:"session_max_age_minutes" envconfig:"SESSION_MAX_AGE_MINUTES"`
	// NetInfoIntervalSeconds is the local address polling period (0 to disable)
	NetInfoIntervalSeconds int `yaml:"netinfo_interval_seconds" envconfig:"NETINFO_INTERVAL_SECONDS"`
}

// StorageConfig selects the settings store backend
type StorageConfig struct {
	Type    string        `yaml:"type" envconfig:"TYPE"` // memory, file, mongodb, redis
	File    FileConfig    `yaml:"file" envconfig:"FILE"`
	MongoDB MongoDBConfig `yaml:"mongodb" envconfig:"MONGODB"`
	Redis   RedisConfig   `yaml:"redis" envconfig:"REDIS"`
}

// FileConfig contains file backend configuration
type FileConfig struct {
	Path string `yaml:"path" envconfig:"SETTINGS_PATH"` // not PATH: envconfig falls back to the unprefixed tag
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string `yaml:"uri" envconfig:"URI"`
	Database string `yaml:"database" envconfig:"DATABASE"`
	Timeout  int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// CORSConfig configures cross-origin access to the public API
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `yaml:"exposed_headers" envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// AuthRateLimitConfig limits password attempts per client address
type AuthRateLimitConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"ENABLED"`
	MaxAttempts    int  `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	WindowSeconds  int  `yaml:"window_seconds" envconfig:"WINDOW_SECONDS"`
	LockoutSeconds int  `yaml:"lockout_seconds" envconfig:"LOCKOUT_SECONDS"`
}

// SetDefaults fills unset limits
func (c *AuthRateLimitConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.LockoutSeconds <= 0 {
		c.LockoutSeconds = 300
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			AdminHost:              "127.0.0.1",
			AdminPort:              8090,
			SessionMaxAgeMinutes:   240,
			NetInfoIntervalSeconds: 10,
		},
		Storage: StorageConfig{
			Type: "file",
			File: FileConfig{
				Path: "settings.json",
			},
			MongoDB: MongoDBConfig{
				URI:      "mongodb://localhost:27017",
				Database: "interpreter",
				Timeout:  10,
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "interp:",
			},
		},
		Logging: logging.DefaultConfig(),
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
			MaxAge:         3600,
		},
		AuthRateLimit: AuthRateLimitConfig{
			Enabled:        true,
			MaxAttempts:    5,
			WindowSeconds:  60,
			LockoutSeconds: 300,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Server.AdminPort)
	}

	if c.Server.SessionMaxAgeMinutes < 0 {
		return fmt.Errorf("invalid session max age: %d", c.Server.SessionMaxAgeMinutes)
	}

	switch c.Storage.Type {
	case "memory":
	case "file":
		if c.Storage.File.Path == "" {
			return fmt.Errorf("file path is required when using file storage")
		}
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("mongodb uri is required when using mongodb storage")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("redis address is required when using redis storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, file, mongodb, or redis)", c.Storage.Type)
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	if c.CORS.AllowCredentials {
		for _, o := range c.CORS.AllowedOrigins {
			if o == "*" {
				return fmt.Errorf("cors: wildcard origin cannot be combined with allow_credentials")
			}
		}
	}

	return nil
}

// AdminAddress returns the admin server address
func (c *ServerConfig) AdminAddress() string {
	return fmt.Sprintf("%s:%d", c.AdminHost, c.AdminPort)
}

// SessionMaxAge returns the session cookie lifetime
func (c *ServerConfig) SessionMaxAge() time.Duration {
	return time.Duration(c.SessionMaxAgeMinutes) * time.Minute
}

// NetInfoInterval returns the local address polling period
func (c *ServerConfig) NetInfoInterval() time.Duration {
	return time.Duration(c.NetInfoIntervalSeconds) * time.Second
}
