package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/qa-agent/logexplain/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "logexplain.yaml"

// Config holds all logexplain configuration.
type Config struct {
	Log         LogConfig      `yaml:"log"`
	Provider    ProviderConfig `yaml:"provider"`
	Gateway     GatewayConfig  `yaml:"gateway"`
	Cache       CacheConfig    `yaml:"cache"`
	Compress    CompressConfig `yaml:"compress"`
	Jira        JiraConfig     `yaml:"jira"`
	Slack       SlackConfig    `yaml:"slack"`
	Database    DatabaseConfig `yaml:"database"`
	RunLog      RunLogConfig   `yaml:"run_log"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	CallTimeout time.Duration  `yaml:"call_timeout"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
	File   string `yaml:"file"`
}

// ProviderConfig defines the AI backend.
type ProviderConfig struct {
	Name       string                  `yaml:"name"`
	URL        string                  `yaml:"url"`
	APIKey     string                  `yaml:"api_key"`
	Model      string                  `yaml:"model"`
	Generation models.GenerationConfig `yaml:"generation"`
}

// GatewayConfig controls the explanation gateway.
type GatewayConfig struct {
	MaxInputChars     int           `yaml:"max_input_chars"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// ValkeyConfig addresses a Redis-compatible server.
type ValkeyConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig selects and configures the persistent cache tier.
// Backend is "file" (default), "sqlite" or "valkey".
type CacheConfig struct {
	Backend string       `yaml:"backend"`
	Dir     string       `yaml:"dir"`
	DBPath  string       `yaml:"db_path"`
	Valkey  ValkeyConfig `yaml:"valkey"`
}

// CompressConfig controls evidence compression.
type CompressConfig struct {
	Codec string `yaml:"codec"`
	Level int    `yaml:"level"`
}

// JiraConfig holds issue-tracker credentials.
type JiraConfig struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	APIToken string `yaml:"api_token"`
}

// SlackConfig holds the chat webhook.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// DatabaseConfig selects the interaction repository.
// Driver is "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RunLogConfig controls the run journal.
type RunLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Provider: ProviderConfig{
			Name:  "gemini",
			URL:   "https://generativelanguage.googleapis.com",
			Model: "gemini-1.5-flash",
			Generation: models.GenerationConfig{
				Temperature:     0.7,
				MaxOutputTokens: 1024,
				TopP:            0.8,
				TopK:            40,
			},
		},
		Gateway: GatewayConfig{
			MaxInputChars:     8000,
			CacheTTL:          time.Hour,
			RequestsPerMinute: 15,
		},
		Cache: CacheConfig{
			Backend: "file",
			Dir:     ".cache",
			DBPath:  "logexplain-cache.db",
		},
		Compress: CompressConfig{
			Codec: "gzip",
			Level: 6,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "logexplain.db",
		},
		RunLog: RunLogConfig{
			Enabled:       true,
			DBPath:        "logexplain-runs.db",
			RetentionDays: 90,
		},
		CallTimeout: 60 * time.Second,
	}
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads a YAML config file, expands environment variables and applies
// environment overrides. A missing file is tolerated only for DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Provider.APIKey, "GEMINI_API_KEY")
	set(&c.Provider.Model, "GEMINI_MODEL")
	set(&c.Jira.BaseURL, "JIRA_BASE_URL")
	set(&c.Jira.Email, "JIRA_EMAIL")
	set(&c.Jira.APIToken, "JIRA_API_TOKEN")
	set(&c.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	set(&c.Cache.Dir, "CACHE_DIR")
	set(&c.Cache.Backend, "LOGEXPLAIN_CACHE_BACKEND")
	set(&c.Cache.Valkey.Address, "VALKEY_ADDR")
	set(&c.Cache.Valkey.Password, "VALKEY_PASSWORD")
	set(&c.Log.Level, "LOG_LEVEL")

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			c.Database.Driver = "postgres"
		}
	}
	c.Jira.BaseURL = strings.TrimSuffix(c.Jira.BaseURL, "/")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "file", "sqlite", "valkey":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Compress.Codec {
	case "gzip", "zstd", "brotli":
	default:
		return fmt.Errorf("config: unknown compression codec %q", c.Compress.Codec)
	}
	if c.Compress.Codec == "gzip" && (c.Compress.Level < 1 || c.Compress.Level > 9) {
		return fmt.Errorf("config: gzip level must be 1-9, got %d", c.Compress.Level)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Gateway.CacheTTL <= 0 {
		return fmt.Errorf("config: cache_ttl must be positive")
	}
	if c.Gateway.MaxInputChars <= 0 {
		return fmt.Errorf("config: max_input_chars must be positive")
	}
	return nil
}
