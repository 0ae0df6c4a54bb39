package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Broker          BrokerConfig   `yaml:"broker"`
	Topics          TopicsConfig   `yaml:"topics"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	State           StateConfig    `yaml:"state"`
	API             APIConfig      `yaml:"api"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// BrokerConfig contains broker connection settings
type BrokerConfig struct {
	URL            string   `yaml:"url"` // tcp://, ssl://, ws://, redis://
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	ClientIDPrefix string   `yaml:"client_id_prefix"`
	KeepAlive      Duration `yaml:"keepalive"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	PublishTimeout Duration `yaml:"publish_timeout"`

	// Reconnect policy: fixed delay, bounded attempts
	ReconnectDelay Duration `yaml:"reconnect_delay"`
	MaxReconnects  int      `yaml:"max_reconnects"`

	// Discover looks up an MQTT broker via mDNS when URL is empty
	Discover        bool     `yaml:"discover"`
	DiscoverTimeout Duration `yaml:"discover_timeout"`
}

// TopicsConfig names the two pub/sub channels
type TopicsConfig struct {
	Commands string `yaml:"commands"`
	Status   string `yaml:"status"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"use_json"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled defaults to true
func (c LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StateConfig controls last-known state persistence
type StateConfig struct {
	Restore *bool `yaml:"restore"`
}

// ShouldRestore defaults to true
func (c StateConfig) ShouldRestore() bool {
	return c.Restore == nil || *c.Restore
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// IsEnabled defaults to true
func (c APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Addr returns host:port
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	if c.Broker.URL == "" && !c.Broker.Discover {
		return fmt.Errorf("broker.url is required unless broker.discover is set")
	}
	if c.Broker.MaxReconnects < 0 {
		return fmt.Errorf("broker.max_reconnects must not be negative")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of trace, debug, info, warn, error", c.Log.Level)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./ledsync.sqlite"
	}

	// Broker defaults match the web dashboard that shares the device
	if cfg.Broker.URL == "" && !cfg.Broker.Discover {
		cfg.Broker.URL = "tcp://localhost:1883"
	}
	if cfg.Broker.ClientIDPrefix == "" {
		cfg.Broker.ClientIDPrefix = "ledsync"
	}
	if cfg.Broker.KeepAlive == 0 {
		cfg.Broker.KeepAlive = Duration(30 * time.Second)
	}
	if cfg.Broker.ConnectTimeout == 0 {
		cfg.Broker.ConnectTimeout = Duration(30 * time.Second)
	}
	if cfg.Broker.PublishTimeout == 0 {
		cfg.Broker.PublishTimeout = Duration(10 * time.Second)
	}
	if cfg.Broker.ReconnectDelay == 0 {
		cfg.Broker.ReconnectDelay = Duration(3 * time.Second)
	}
	if cfg.Broker.MaxReconnects == 0 {
		cfg.Broker.MaxReconnects = 5
	}
	if cfg.Broker.DiscoverTimeout == 0 {
		cfg.Broker.DiscoverTimeout = Duration(3 * time.Second)
	}

	if cfg.Topics.Commands == "" {
		cfg.Topics.Commands = "led_matrix/commands"
	}
	if cfg.Topics.Status == "" {
		cfg.Topics.Status = "led_matrix/status"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
