package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Addons    AddonConfig
	Store     StoreConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// AddonConfig holds add-on lifecycle configuration.
type AddonConfig struct {
	DataDir        string        `envconfig:"ADDON_DATA_DIR" default:"./data/addons"`
	StoreDriver    string        `envconfig:"ADDON_STORE_DRIVER" default:"file"`
	HostVersion    string        `envconfig:"ADDON_HOST_VERSION" default:"1.0.0"`
	SDKConstraint  string        `envconfig:"ADDON_SDK_CONSTRAINT" default:">= 1.0.0, < 2.0.0"`
	MaxPackageMB   int           `envconfig:"ADDON_MAX_PACKAGE_MB" default:"32"`
	InitTimeout    time.Duration `envconfig:"ADDON_INIT_TIMEOUT" default:"5s"`
	ReloadOnStart  bool          `envconfig:"ADDON_RELOAD_ON_START" default:"true"`
	SeedDir        string        `envconfig:"ADDON_SEED_DIR"`
	ScriptMaxStack int           `envconfig:"ADDON_SCRIPT_MAX_STACK" default:"1024"`
}

// StoreConfig holds remote add-on store configuration. An empty URL
// disables the store endpoints.
type StoreConfig struct {
	URL        string        `envconfig:"ADDON_STORE_URL"`
	Timeout    time.Duration `envconfig:"ADDON_STORE_TIMEOUT" default:"30s"`
	RPS        float64       `envconfig:"ADDON_STORE_RPS" default:"10"`
	MaxRetries int           `envconfig:"ADDON_STORE_RETRIES" default:"3"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Addons.StoreDriver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid ADDON_STORE_DRIVER %q (want file or sqlite)", c.Addons.StoreDriver)
	}
	if c.Addons.MaxPackageMB <= 0 {
		return fmt.Errorf("ADDON_MAX_PACKAGE_MB must be positive")
	}
	if c.Addons.InitTimeout <= 0 {
		return fmt.Errorf("ADDON_INIT_TIMEOUT must be positive")
	}
	return nil
}

// MaxPackageBytes returns the package size limit in bytes.
func (c *Config) MaxPackageBytes() int64 {
	return int64(c.Addons.MaxPackageMB) << 20
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Addons: AddonConfig{
			DataDir:        "./data/addons",
			StoreDriver:    "file",
			HostVersion:    "1.0.0",
			SDKConstraint:  ">= 1.0.0, < 2.0.0",
			MaxPackageMB:   32,
			InitTimeout:    5 * time.Second,
			ReloadOnStart:  true,
			ScriptMaxStack: 1024,
		},
		Store: StoreConfig{
			Timeout:    30 * time.Second,
			RPS:        10,
			MaxRetries: 3,
		},
	}
}
