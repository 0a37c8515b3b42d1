// ABOUTME: Agent configuration loaded from TOML with environment variable expansion
// ABOUTME: Durations are strings parsed after decoding; unset fields take documented defaults

package agent

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/ytwatch/internal/enforce"
)

const (
	DefaultServerURL         = "http://127.0.0.1:3000"
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultSyncInterval      = 10 * time.Minute
	DefaultRulesInterval     = 30 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultDedupeWindow      = 30 * time.Second
	DefaultBufferCap         = 100
	DefaultBridgeAddr        = "127.0.0.1:7345"

	// maxBatch is the server's per-request history limit.
	maxBatch = 100
)

// Config is the agent's configuration file.
type Config struct {
	ServerURL  string `toml:"server_url"`
	DeviceID   string `toml:"device_id"`
	DeviceName string `toml:"device_name"`
	StatePath  string `toml:"state_path"`

	HeartbeatIntervalRaw string `toml:"heartbeat_interval"`
	SyncIntervalRaw      string `toml:"sync_interval"`
	RulesIntervalRaw     string `toml:"rules_interval"`
	RequestTimeoutRaw    string `toml:"request_timeout"`
	DedupeWindowRaw      string `toml:"dedupe_window"`

	HeartbeatInterval time.Duration `toml:"-"`
	SyncInterval      time.Duration `toml:"-"`
	RulesInterval     time.Duration `toml:"-"`
	RequestTimeout    time.Duration `toml:"-"`
	DedupeWindow      time.Duration `toml:"-"`

	BufferCap       int    `toml:"buffer_cap"`
	BridgeAddr      string `toml:"bridge_addr"`
	AttemptPolicy   string `toml:"attempt_policy"`
	CompressUploads bool   `toml:"compress_uploads"`

	Logging LoggingConfig `toml:"logging"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a TOML config file. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes, defaults and validates TOML config data.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func (c *Config) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"heartbeat_interval", c.HeartbeatIntervalRaw, &c.HeartbeatInterval},
		{"sync_interval", c.SyncIntervalRaw, &c.SyncInterval},
		{"rules_interval", c.RulesIntervalRaw, &c.RulesInterval},
		{"request_timeout", c.RequestTimeoutRaw, &c.RequestTimeout},
		{"dedupe_window", c.DedupeWindowRaw, &c.DedupeWindow},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", f.name)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.DeviceName == "" {
		c.DeviceName = defaultDeviceName()
	}
	if c.StatePath == "" {
		c.StatePath = DefaultStatePath()
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.RulesInterval == 0 {
		c.RulesInterval = DefaultRulesInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = DefaultDedupeWindow
	}
	if c.BufferCap == 0 {
		c.BufferCap = DefaultBufferCap
	}
	if c.BridgeAddr == "" {
		c.BridgeAddr = DefaultBridgeAddr
	}
	if c.AttemptPolicy == "" {
		c.AttemptPolicy = string(enforce.PolicyPerNavigation)
	}
}

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url must use http or https scheme")
	}
	if c.DeviceID != "" && !deviceIDPattern.MatchString(c.DeviceID) {
		return fmt.Errorf("device_id must be 1-255 letters, digits, '-' or '_'")
	}
	if name := strings.TrimSpace(c.DeviceName); name == "" || len(name) > 255 {
		return fmt.Errorf("device_name must be 1-255 characters")
	}
	if c.BufferCap < 0 {
		return fmt.Errorf("buffer_cap must not be negative")
	}
	if _, err := enforce.ParseAttemptPolicy(c.AttemptPolicy); err != nil {
		return err
	}
	if c.BridgeAddr != "off" {
		host, _, err := net.SplitHostPort(c.BridgeAddr)
		if err != nil {
			return fmt.Errorf("bridge_addr: %w", err)
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return fmt.Errorf("bridge_addr must be a loopback address, got %q", host)
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

// BridgeEnabled reports whether the local navigation bridge should listen.
func (c *Config) BridgeEnabled() bool {
	return c.BridgeAddr != "off"
}

// DefaultConfigPath returns the config file location: $YTWATCH_AGENT_CONFIG,
// else $XDG_CONFIG_HOME/ytwatch/agent.toml.
func DefaultConfigPath() string {
	if p := os.Getenv("YTWATCH_AGENT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "ytwatch", "agent.toml")
}

// DefaultStatePath returns $XDG_DATA_HOME/ytwatch/agent.db.
func DefaultStatePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "ytwatch", "agent.db")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "device"
	}
	return fmt.Sprintf("%s (%s)", host, runtime.GOOS)
}
