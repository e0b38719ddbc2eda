// Package config defines the bridge configuration, its YAML loader,
// and the generated JSON Schema used for editor validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultListen is the bridge HTTP listen address.
	DefaultListen = ":8787"

	// DefaultPort is the HomeChat server port.
	DefaultPort = 3000

	// DefaultInterval is the coordinator refresh interval.
	DefaultInterval = 5 * time.Minute

	// DefaultStatePath is the sqlite state database location.
	DefaultStatePath = "homechat-bridge.db"

	redactedPlaceholder = "**REDACTED**"
)

// Config is the root bridge configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	HomeChat    HomeChatConfig    `yaml:"homechat" json:"homechat"`
	Coordinator CoordinatorConfig `yaml:"coordinator" json:"coordinator"`
	Dispatch    DispatchConfig    `yaml:"dispatch" json:"dispatch"`
	State       StateConfig       `yaml:"state" json:"state"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// ServerConfig configures the bridge's own HTTP server.
type ServerConfig struct {
	// Listen is the address the HTTP server binds, e.g. ":8787".
	Listen string `yaml:"listen" json:"listen"`
}

// HomeChatConfig is the connection profile for one HomeChat server.
type HomeChatConfig struct {
	Host          string `yaml:"host" json:"host" jsonschema:"required"`
	Port          int    `yaml:"port" json:"port"`
	TLS           bool   `yaml:"tls" json:"tls"`
	APIToken      string `yaml:"api_token" json:"api_token" jsonschema:"required"`
	WebhookID     string `yaml:"webhook_id" json:"webhook_id"`
	WebhookSecret string `yaml:"webhook_secret" json:"webhook_secret"`

	// BotUsername enables bot auto-provisioning when set together with
	// WebhookID.
	BotUsername string `yaml:"bot_username" json:"bot_username"`
}

// CoordinatorConfig tunes the periodic channel poll.
type CoordinatorConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// DispatchConfig tunes outbound operations.
type DispatchConfig struct {
	// DefaultRoomID receives messages that name no target.
	DefaultRoomID string `yaml:"default_room_id" json:"default_room_id"`

	// MediaBaseDir restricts local image paths to a directory. Empty
	// disables local file attachments.
	MediaBaseDir string `yaml:"media_base_dir" json:"media_base_dir"`

	// DMTargets maps shortcut names to HomeChat user ids; each entry
	// becomes a send_dm_<name> operation.
	DMTargets map[string]int `yaml:"dm_targets" json:"dm_targets"`
}

// StateConfig locates the bridge's persistent state.
type StateConfig struct {
	// Path of the sqlite database. ":memory:" is accepted for tests.
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `yaml:"format" json:"format" jsonschema:"enum=json,enum=text"`
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.HomeChat.Port == 0 {
		c.HomeChat.Port = DefaultPort
	}
	if c.Coordinator.Interval == 0 {
		c.Coordinator.Interval = DefaultInterval
	}
	if c.Dispatch.DefaultRoomID == "" {
		c.Dispatch.DefaultRoomID = "general"
	}
	if c.State.Path == "" {
		c.State.Path = DefaultStatePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HomeChat.Host) == "" {
		return fmt.Errorf("homechat.host is required")
	}
	if c.HomeChat.Port < 1 || c.HomeChat.Port > 65535 {
		return fmt.Errorf("homechat.port must be in 1..65535, got %d", c.HomeChat.Port)
	}
	if strings.TrimSpace(c.HomeChat.APIToken) == "" {
		return fmt.Errorf("homechat.api_token is required")
	}
	if c.HomeChat.WebhookSecret != "" && c.HomeChat.WebhookID == "" {
		return fmt.Errorf("homechat.webhook_secret set without homechat.webhook_id")
	}
	if c.Coordinator.Interval < 10*time.Second {
		return fmt.Errorf("coordinator.interval must be at least 10s, got %s", c.Coordinator.Interval)
	}
	for name, id := range c.Dispatch.DMTargets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("dispatch.dm_targets contains an empty name")
		}
		if id <= 0 {
			return fmt.Errorf("dispatch.dm_targets[%s] must be a positive user id, got %d", name, id)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

// Redacted returns a copy safe for diagnostics output: credential
// fields are replaced, never echoed.
func (c Config) Redacted() Config {
	out := c
	if out.HomeChat.APIToken != "" {
		out.HomeChat.APIToken = redactedPlaceholder
	}
	if out.HomeChat.WebhookSecret != "" {
		out.HomeChat.WebhookSecret = redactedPlaceholder
	}
	return out
}

// SecretValues lists the raw credentials for log redaction.
func (c Config) SecretValues() []string {
	var out []string
	if c.HomeChat.APIToken != "" {
		out = append(out, c.HomeChat.APIToken)
	}
	if c.HomeChat.WebhookSecret != "" {
		out = append(out, c.HomeChat.WebhookSecret)
	}
	return out
}
