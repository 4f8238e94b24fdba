// Package config provides YAML-based configuration loading for the agentfloor hub.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level hub configuration, loaded from agentfloor.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Vendors  VendorsConfig  `yaml:"vendors"`
	GitHub   GitHubConfig   `yaml:"github"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects and locates the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`
}

// QueueConfig tunes the polling-leased queue.
type QueueConfig struct {
	LeaseTimeout  time.Duration `yaml:"lease_timeout"`
	Retention     time.Duration `yaml:"retention"`
	BatchSize     int           `yaml:"batch_size"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// VendorsConfig holds per-vendor credentials for synchronous chat.
type VendorsConfig struct {
	Anthropic VendorConfig `yaml:"anthropic"`
	OpenAI    VendorConfig `yaml:"openai"`
}

// VendorConfig configures one vendor streamer.
type VendorConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// GitHubConfig configures repository context fetching.
type GitHubConfig struct {
	Token    string        `yaml:"token"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Disabled bool          `yaml:"disabled"`
}

// AlertsConfig holds chat-platform credentials for operational alerts.
type AlertsConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig identifies a bot and the channel it posts to.
type ChannelConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// Enabled reports whether both the token and channel are set.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != "" && c.Channel != ""
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Driver names.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, unmarshals YAML bytes and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	expanded := envRef.ReplaceAllStringFunc(string(data), func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			c.Database.Path = "agentfloor.db"
		}
	case DriverMySQL:
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Queue.LeaseTimeout == 0 {
		c.Queue.LeaseTimeout = 5 * time.Minute
	}
	if c.Queue.Retention == 0 {
		c.Queue.Retention = 24 * time.Hour
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 5
	}
	if c.Queue.SweepSchedule == "" {
		c.Queue.SweepSchedule = "*/1 * * * *"
	}
	if c.Vendors.Anthropic.APIKey == "" {
		c.Vendors.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Vendors.OpenAI.APIKey == "" {
		c.Vendors.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if c.GitHub.CacheTTL == 0 {
		c.GitHub.CacheTTL = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverMySQL:
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	if c.Queue.LeaseTimeout < 0 {
		errs = append(errs, "queue.lease_timeout must be positive")
	}
	if c.Queue.Retention < 0 {
		errs = append(errs, "queue.retention must be positive")
	}
	if c.Queue.BatchSize < 0 {
		errs = append(errs, "queue.batch_size must be positive")
	}
	if _, err := cron.ParseStandard(c.Queue.SweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("queue.sweep_schedule %q: %v", c.Queue.SweepSchedule, err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
