// Package config handles seqthink configuration loading.
//
// Configuration is optional: the server runs on defaults when no file is
// found. A YAML file may override any value, and the MAX_HISTORY_SIZE
// environment variable overrides the trace retention bound last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied before the YAML file is decoded.
const (
	DefaultPort            = 8000
	DefaultMaxHistory      = 1000
	DefaultSessionTTL      = time.Hour
	DefaultMaxSessions     = 1024
	DefaultTopicPrefix     = "seqthink"
	DefaultPublishInterval = time.Minute
)

// EnvMaxHistory names the environment variable that overrides
// trace.max_history.
const EnvMaxHistory = "MAX_HISTORY_SIZE"

// ErrNoConfig is returned by FindConfig when no explicit path was given
// and none of the search paths exist.
var ErrNoConfig = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/seqthink/config.yaml, /etc/seqthink/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "seqthink", "config.yaml"))
	}

	paths = append(paths, "/etc/seqthink/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// The returned error wraps ErrNoConfig when the search came up empty.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all seqthink configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	Trace     TraceConfig  `yaml:"trace"`
	MCP       MCPConfig    `yaml:"mcp"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// TraceConfig controls the in-memory thought trace.
type TraceConfig struct {
	// MaxHistory bounds the linear history. Oldest thoughts are evicted
	// first once the bound is reached. Branch membership is not
	// affected by this bound.
	MaxHistory int `yaml:"max_history"`
}

// MCPConfig tunes the streamable HTTP MCP endpoint.
type MCPConfig struct {
	// SessionTTL is how long an idle MCP session stays valid.
	SessionTTL time.Duration `yaml:"session_ttl"`
	// MaxSessions caps the session table; the least recently used
	// session is dropped when it fills.
	MaxSessions int `yaml:"max_sessions"`
}

// MQTTConfig enables forwarding of trace events to an MQTT broker.
// Publishing is disabled when Broker is empty.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`

	// PublishInterval is how often retained state topics (history
	// length, branch count, sessions, uptime) are refreshed.
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// Configured reports whether an MQTT broker was set.
func (c MQTTConfig) Configured() bool {
	return strings.TrimSpace(c.Broker) != ""
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: DefaultPort},
		Trace:  TraceConfig{MaxHistory: DefaultMaxHistory},
		MCP: MCPConfig{
			SessionTTL:  DefaultSessionTTL,
			MaxSessions: DefaultMaxSessions,
		},
		MQTT: MQTTConfig{
			TopicPrefix:     DefaultTopicPrefix,
			PublishInterval: DefaultPublishInterval,
		},
	}
}

// ApplyEnv applies environment variable overrides. Currently only
// MAX_HISTORY_SIZE is honored.
func (c *Config) ApplyEnv() error {
	raw, ok := os.LookupEnv(EnvMaxHistory)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvMaxHistory, err)
	}
	c.Trace.MaxHistory = n
	return nil
}

// Validate checks the configuration for values the server cannot run
// with. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port))
	}
	if c.Trace.MaxHistory < 1 {
		errs = append(errs, fmt.Errorf("trace.max_history must be positive, got %d", c.Trace.MaxHistory))
	}
	if c.MCP.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("mcp.session_ttl must be positive, got %s", c.MCP.SessionTTL))
	}
	if c.MCP.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("mcp.max_sessions must be positive, got %d", c.MCP.MaxSessions))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}
	if c.MQTT.Configured() && strings.TrimSpace(c.MQTT.TopicPrefix) == "" {
		errs = append(errs, errors.New("mqtt.topic_prefix is required when mqtt.broker is set"))
	}
	if c.MQTT.Configured() && c.MQTT.PublishInterval <= 0 {
		errs = append(errs, fmt.Errorf("mqtt.publish_interval must be positive, got %s", c.MQTT.PublishInterval))
	}

	return errors.Join(errs...)
}
