package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Remote modes.
const (
	ModeHTTP = "http"
	ModeMock = "mock"
)

// Config holds all loopchat configuration.
type Config struct {
	Remote  RemoteConfig  `yaml:"remote"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// RemoteConfig selects and configures the chat backend the client talks to.
type RemoteConfig struct {
	Mode        string `yaml:"mode"` // http, mock
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Timeout     string `yaml:"timeout"`
	SendTimeout string `yaml:"send_timeout"`
}

// StorageConfig configures the local state database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// ServerConfig configures the development backend.
type ServerConfig struct {
	Port           string `yaml:"port"`
	DBPath         string `yaml:"db_path"`
	APIKey         string `yaml:"api_key"`
	WebhookTimeout string `yaml:"webhook_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Mode:        ModeMock,
			BaseURL:     "http://localhost:8080/api",
			Timeout:     "30s",
			SendTimeout: "60s",
		},
		Storage: StorageConfig{
			Path: filepath.Join(DefaultDir(), "state.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Port:           "8080",
			DBPath:         "./loopchat.db",
			WebhookTimeout: "30s",
		},
	}
}

// DefaultDir is where loopchat keeps its config and local state.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loopchat"
	}
	return filepath.Join(home, ".loopchat")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// LoadDotEnv loads .env from the working directory. Variables already set in
// the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load loads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Remote.Mode = envOrDefault("LOOPCHAT_REMOTE_MODE", c.Remote.Mode)
	c.Remote.BaseURL = envOrDefault("LOOPCHAT_BASE_URL", c.Remote.BaseURL)
	c.Remote.APIKey = envOrDefault("LOOPCHAT_API_KEY", c.Remote.APIKey)
	c.Storage.Path = envOrDefault("LOOPCHAT_STATE_DB", c.Storage.Path)
	c.Logging.Level = envOrDefault("LOOPCHAT_LOG_LEVEL", c.Logging.Level)

	c.Server.Port = envOrDefault("PORT", c.Server.Port)
	c.Server.DBPath = envOrDefault("DB_PATH", c.Server.DBPath)
	c.Server.APIKey = envOrDefault("LOOPCHAT_SERVER_API_KEY", c.Server.APIKey)
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetTimeout returns the per-request remote timeout.
func (c *Config) GetTimeout() time.Duration {
	return parseDuration(c.Remote.Timeout, 30*time.Second)
}

// GetSendTimeout returns the bound on a single message send.
func (c *Config) GetSendTimeout() time.Duration {
	return parseDuration(c.Remote.SendTimeout, 60*time.Second)
}

// GetWebhookTimeout returns how long the backend waits for an agent webhook.
func (c *Config) GetWebhookTimeout() time.Duration {
	return parseDuration(c.Server.WebhookTimeout, 30*time.Second)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Remote.Mode {
	case ModeHTTP:
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required in http mode (set LOOPCHAT_BASE_URL)")
		}
	case ModeMock:
	default:
		return fmt.Errorf("invalid remote mode: %q (valid: %s, %s)", c.Remote.Mode, ModeHTTP, ModeMock)
	}

	for name, v := range map[string]string{
		"remote.timeout":         c.Remote.Timeout,
		"remote.send_timeout":    c.Remote.SendTimeout,
		"server.webhook_timeout": c.Server.WebhookTimeout,
	} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", name)
		}
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}
