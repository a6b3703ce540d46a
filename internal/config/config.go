package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ma "github.com/multiformats/go-multiaddr"
)

// Config represents the meshchat configuration file
type Config struct {
	Identity  IdentityConfig  `toml:"identity"`
	Network   NetworkConfig   `toml:"network"`
	Discovery DiscoveryConfig `toml:"discovery"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Logging   LoggingConfig   `toml:"logging"`
	UI        UIConfig        `toml:"ui"`
}

// IdentityConfig contains identity-related settings
type IdentityConfig struct {
	Name        string `toml:"name"`         // default display name
	KeyFile     string `toml:"key_file"`     // empty uses the config directory
	UseKeychain bool   `toml:"use_keychain"` // store the peer key in the OS keychain
}

// NetworkConfig contains transport settings
type NetworkConfig struct {
	ListenAddrs    []string `toml:"listen_addrs"`
	Topic          string   `toml:"topic"`
	Router         string   `toml:"router"` // floodsub or gossipsub
	BootstrapPeers []string `toml:"bootstrap_peers"`
}

// DiscoveryConfig contains peer discovery settings
type DiscoveryConfig struct {
	MDNS           bool     `toml:"mdns"`
	Service        string   `toml:"service"`
	BrowseInterval Duration `toml:"browse_interval"`
	Expiry         Duration `toml:"expiry"`
}

// RateLimitConfig contains inbound rate limits
type RateLimitConfig struct {
	MessagesPerSecond       float64 `toml:"messages_per_second"`
	Burst                   int     `toml:"burst"`
	GlobalMessagesPerSecond float64 `toml:"global_messages_per_second"`
	GlobalBurst             int     `toml:"global_burst"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
	File   string `toml:"file"`   // empty uses the config directory, "-" is stderr
}

// UIConfig contains terminal settings
type UIConfig struct {
	Mode string `toml:"mode"` // auto, tui, plain
}

// Duration is a time.Duration written as a string such as "30s" in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{
			Name:        "",
			UseKeychain: false,
		},
		Network: NetworkConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/0",
				"/ip4/0.0.0.0/udp/0/quic-v1",
			},
			Topic:          "meshchat",
			Router:         "floodsub",
			BootstrapPeers: []string{},
		},
		Discovery: DiscoveryConfig{
			MDNS:           true,
			Service:        "_meshchat._udp",
			BrowseInterval: Duration{10 * time.Second},
			Expiry:         Duration{60 * time.Second},
		},
		RateLimit: RateLimitConfig{
			MessagesPerSecond:       20,
			Burst:                   50,
			GlobalMessagesPerSecond: 200,
			GlobalBurst:             400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		UI: UIConfig{
			Mode: "auto",
		},
	}
}

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("get paths: %w", err)
	}

	return LoadFrom(paths.ConfigFile)
}

// LoadFrom loads the configuration from a specific file
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if no config file exists
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse config: unknown key %s", undecoded[0])
	}

	return cfg, nil
}

// Save saves the configuration to the default config file
func (c *Config) Save() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	return c.SaveTo(paths.ConfigFile)
}

// SaveTo saves the configuration to a specific file
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Network.Topic) == "" {
		return fmt.Errorf("network topic must not be empty")
	}

	validRouters := map[string]bool{"floodsub": true, "gossipsub": true}
	if !validRouters[c.Network.Router] {
		return fmt.Errorf("invalid router: %s", c.Network.Router)
	}

	if len(c.Network.ListenAddrs) == 0 {
		return fmt.Errorf("at least one listen address is required")
	}
	for _, addr := range c.Network.ListenAddrs {
		if _, err := ma.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
	}
	for _, addr := range c.Network.BootstrapPeers {
		if _, err := ma.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("invalid bootstrap peer %q: %w", addr, err)
		}
	}

	if c.Discovery.MDNS {
		if c.Discovery.Service == "" {
			return fmt.Errorf("discovery service must not be empty")
		}
		if c.Discovery.BrowseInterval.Duration <= 0 {
			return fmt.Errorf("invalid browse interval: %s", c.Discovery.BrowseInterval)
		}
		if c.Discovery.Expiry.Duration < c.Discovery.BrowseInterval.Duration {
			return fmt.Errorf("discovery expiry %s is shorter than browse interval %s",
				c.Discovery.Expiry, c.Discovery.BrowseInterval)
		}
	}

	if c.RateLimit.MessagesPerSecond < 0 || c.RateLimit.GlobalMessagesPerSecond < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.RateLimit.MessagesPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("invalid burst: %d", c.RateLimit.Burst)
	}
	if c.RateLimit.GlobalMessagesPerSecond > 0 && c.RateLimit.GlobalBurst < 1 {
		return fmt.Errorf("invalid global burst: %d", c.RateLimit.GlobalBurst)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validModes := map[string]bool{"auto": true, "tui": true, "plain": true}
	if !validModes[c.UI.Mode] {
		return fmt.Errorf("invalid ui mode: %s", c.UI.Mode)
	}

	return nil
}
