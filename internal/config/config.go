// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultDatabaseDriver   = "sqlite"
	DefaultMySQLPort        = 3306
	DefaultMaxOpenConns     = 10
	DefaultMaxIdleConns     = 5
	DefaultConnMaxLifetime  = 30 * time.Minute
	DefaultAgentProvider    = "openai"
	DefaultAgentModel       = "gpt-4o-mini"
	DefaultAgentTimeout     = 120 * time.Second
	DefaultHeadingTimeout   = 30 * time.Second
	DefaultHeadingMaxLength = 80
	DefaultPendingTTL       = 15 * time.Minute
	DefaultPendingMax       = 1000
)

// DefaultHeadingTemperature matches the sampling temperature used for titles
// since the first version of the chatbot.
var DefaultHeadingTemperature = 0.7

// Config represents the complete coven-chat configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Agent     ProviderConfig  `yaml:"agent" toml:"agent"`
	Heading   HeadingConfig   `yaml:"heading" toml:"heading"`
	Turns     TurnsConfig     `yaml:"turns" toml:"turns"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration.
// GRPCAddr is optional; when empty the gRPC health service is not started.
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
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS with tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds history store connection parameters.
// Driver is one of "sqlite" (pure Go), "sqlite3" (cgo) or "mysql".
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`

	// SQLite
	Path string `yaml:"path" toml:"path"`

	// MySQL
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Name     string `yaml:"name" toml:"name"`

	// Pool bounds
	MaxOpenConns    int           `yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"-" toml:"-"`

	ConnMaxLifetimeRaw string `yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

// ProviderConfig selects and configures an LLM backend.
// Provider is one of "openai", "ollama", "gemini" or "echo".
type ProviderConfig struct {
	Provider          string   `yaml:"provider" toml:"provider"`
	Model             string   `yaml:"model" toml:"model"`
	APIKey            string   `yaml:"api_key" toml:"api_key"`
	BaseURL           string   `yaml:"base_url" toml:"base_url"`
	SystemPrompt      string   `yaml:"system_prompt" toml:"system_prompt"`
	Temperature       *float64 `yaml:"temperature" toml:"temperature"`
	RequestsPerSecond float64  `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int      `yaml:"burst" toml:"burst"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// HeadingConfig configures the heading synthesizer. Empty provider fields
// inherit the agent's provider settings.
type HeadingConfig struct {
	Provider    string   `yaml:"provider" toml:"provider"`
	Model       string   `yaml:"model" toml:"model"`
	APIKey      string   `yaml:"api_key" toml:"api_key"`
	BaseURL     string   `yaml:"base_url" toml:"base_url"`
	Temperature *float64 `yaml:"temperature" toml:"temperature"`
	MaxLength   int      `yaml:"max_length" toml:"max_length"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// TurnsConfig controls how long computed-but-unpersisted turns stay
// available for a write retry.
type TurnsConfig struct {
	PendingTTL time.Duration `yaml:"-" toml:"-"`
	PendingMax int           `yaml:"pending_max" toml:"pending_max"`

	PendingTTLRaw string `yaml:"pending_ttl" toml:"pending_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.Driver == "mysql" && c.Database.Port == 0 {
		c.Database.Port = DefaultMySQLPort
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = DefaultConnMaxLifetime
	}

	if c.Agent.Provider == "" {
		c.Agent.Provider = DefaultAgentProvider
	}
	if c.Agent.Model == "" && c.Agent.Provider == DefaultAgentProvider {
		c.Agent.Model = DefaultAgentModel
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = DefaultAgentTimeout
	}

	if c.Heading.Temperature == nil {
		t := DefaultHeadingTemperature
		c.Heading.Temperature = &t
	}
	if c.Heading.MaxLength == 0 {
		c.Heading.MaxLength = DefaultHeadingMaxLength
	}
	if c.Heading.Timeout == 0 {
		c.Heading.Timeout = DefaultHeadingTimeout
	}

	if c.Turns.PendingTTL == 0 {
		c.Turns.PendingTTL = DefaultPendingTTL
	}
	if c.Turns.PendingMax == 0 {
		c.Turns.PendingMax = DefaultPendingMax
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// HeadingProvider returns the provider settings used for heading synthesis,
// falling back to the agent's settings for anything left empty.
func (c *Config) HeadingProvider() ProviderConfig {
	p := ProviderConfig{
		Provider:    c.Heading.Provider,
		Model:       c.Heading.Model,
		APIKey:      c.Heading.APIKey,
		BaseURL:     c.Heading.BaseURL,
		Temperature: c.Heading.Temperature,
		Timeout:     c.Heading.Timeout,
	}
	if p.Provider == "" {
		p.Provider = c.Agent.Provider
		if p.Model == "" {
			p.Model = c.Agent.Model
		}
		if p.BaseURL == "" {
			p.BaseURL = c.Agent.BaseURL
		}
	}
	if p.APIKey == "" && p.Provider == c.Agent.Provider {
		p.APIKey = c.Agent.APIKey
	}
	return p
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for driver \"mysql\"")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required for driver \"mysql\"")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for driver \"mysql\"")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (valid: sqlite, sqlite3, mysql)", c.Database.Driver)
	}

	if err := validateProvider("agent", c.Agent); err != nil {
		return err
	}
	if err := validateProvider("heading", c.HeadingProvider()); err != nil {
		return err
	}

	if c.Agent.RequestsPerSecond < 0 {
		return fmt.Errorf("agent.requests_per_second must not be negative")
	}
	if c.Heading.MaxLength < 0 {
		return fmt.Errorf("heading.max_length must not be negative")
	}

	return nil
}

// validateProvider checks the provider name and its credential requirements.
func validateProvider(section string, p ProviderConfig) error {
	switch p.Provider {
	case "openai", "gemini":
		if p.APIKey == "" {
			return fmt.Errorf("%s.api_key is required for provider %q", section, p.Provider)
		}
		if p.Model == "" && p.Provider == "gemini" {
			return fmt.Errorf("%s.model is required for provider %q", section, p.Provider)
		}
	case "ollama":
		if p.Model == "" {
			return fmt.Errorf("%s.model is required for provider %q", section, p.Provider)
		}
	case "echo":
	default:
		return fmt.Errorf("%s.provider %q is not supported (valid: openai, ollama, gemini, echo)", section, p.Provider)
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
		{"database.conn_max_lifetime", cfg.Database.ConnMaxLifetimeRaw, &cfg.Database.ConnMaxLifetime},
		{"agent.timeout", cfg.Agent.TimeoutRaw, &cfg.Agent.Timeout},
		{"heading.timeout", cfg.Heading.TimeoutRaw, &cfg.Heading.Timeout},
		{"turns.pending_ttl", cfg.Turns.PendingTTLRaw, &cfg.Turns.PendingTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("parsing %s %q: must be positive", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
