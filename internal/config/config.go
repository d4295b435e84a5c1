// Package config loads and validates the gateway configuration file.
// Values support ${ENV_VAR} expansion so secrets stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crosswire/crosswire/internal/security"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally visible base URL, used for webhook
	// signature verification.
	PublicURL string `yaml:"public_url"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig locates the SQLite databases.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChannelConfig declares one configured channel instance.
type ChannelConfig struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Enabled  bool              `yaml:"enabled"`
	Settings map[string]string `yaml:"settings"`
	Security *security.Policy  `yaml:"security,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Storage     StorageConfig   `yaml:"storage"`
	Logging     LoggingConfig   `yaml:"logging"`
	ManifestDir string          `yaml:"manifest_dir"`
	Channels    []ChannelConfig `yaml:"channels"`
}

// Load reads, env-expands, parses, and validates the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.ID == "" {
			return fmt.Errorf("config: channel %d has no id", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("config: duplicate channel id %s", ch.ID)
		}
		seen[ch.ID] = true
		switch ch.Type {
		case "whatsapp", "telegram", "slack", "discord", "email", "sms":
		default:
			return fmt.Errorf("config: channel %s has unknown type %q", ch.ID, ch.Type)
		}
		if ch.Security != nil {
			ch.Security.Normalize()
		}
	}
	return nil
}

// Channel returns the channel config with the given id.
func (c *Config) Channel(id string) (*ChannelConfig, bool) {
	for i := range c.Channels {
		if c.Channels[i].ID == id {
			return &c.Channels[i], true
		}
	}
	return nil, false
}
