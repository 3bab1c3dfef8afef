// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"

	"relay-proxy-go/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/relay-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are paths served by the relay that metrics.path must not shadow.
var reservedRoutes = []string{"/proxy", "/healthz"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host   string `kong:"help='Listen host (overrides config).',env='HOST'"`
	// Port is a string so that an empty PORT variable falls back to the default.
	Port     string           `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Mode     string           `kong:"help='Response mode: passthrough|html_rewrite (overrides config).',env='RELAY_MODE'"`
	LogLevel string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version  kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Relay    RelayConfig    `toml:"relay"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path, empty when running on defaults
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// RelayConfig selects how upstream responses are re-emitted.
type RelayConfig struct {
	Mode string `toml:"mode"`
}

// UpstreamConfig holds upstream fetch settings.
type UpstreamConfig struct {
	// TimeoutSeconds bounds each upstream fetch. 0 disables the timeout.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the optional TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/relay-proxy/config.toml then configs/config.toml, and falls back to
// built-in defaults if neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if err := cfg.applyCLI(cli); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-empty CLI flags.
func (c *Config) applyCLI(cli *CLI) error {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if p := strings.TrimSpace(cli.Port); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("port %q is not a number", cli.Port)
		}
		c.Server.Port = port
	}
	if cli.Mode != "" {
		c.Relay.Mode = cli.Mode
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	return nil
}

func (c *Config) validate() error {
	if _, err := model.ParseResponseMode(c.Relay.Mode); err != nil {
		return fmt.Errorf("relay.mode must be one of: passthrough, html_rewrite; got %q", c.Relay.Mode)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with defaults.
// Port 0 means "unset" because TOML cannot distinguish an explicit 0 from an
// omitted key. Upstream.TimeoutSeconds is left at 0: upstream fetches are not
// bounded unless the operator asks for it.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Relay.Mode == "" {
		c.Relay.Mode = string(model.Passthrough)
	}
	c.Relay.Mode = strings.ToLower(strings.TrimSpace(c.Relay.Mode))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// ResponseMode returns the validated relay mode.
func (c *Config) ResponseMode() model.ResponseMode {
	mode, err := model.ParseResponseMode(c.Relay.Mode)
	if err != nil {
		return model.Passthrough
	}
	return mode
}

// FilePath returns the config file that was loaded, or "" when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
