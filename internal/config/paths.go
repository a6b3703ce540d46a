package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds all platform-specific file paths for meshchat
type Paths struct {
	ConfigDir  string // ~/.config/meshchat or equivalent
	ConfigFile string // ~/.config/meshchat/config.toml
	KeyFile    string // ~/.config/meshchat/peer.key
	LogFile    string // ~/.config/meshchat/meshchat.log
}

// GetPaths returns platform-specific paths for meshchat
func GetPaths() (*Paths, error) {
	var configDir string

	// Allow override via environment variable (useful for running several peers on one host)
	if envConfigDir := os.Getenv("MESHCHAT_CONFIG_DIR"); envConfigDir != "" {
		configDir = envConfigDir
	} else {
		switch runtime.GOOS {
		case "linux", "darwin", "freebsd", "openbsd":
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "meshchat")

		case "windows":
			appData := os.Getenv("APPDATA")
			if appData == "" {
				return nil, fmt.Errorf("APPDATA environment variable not set")
			}
			configDir = filepath.Join(appData, "meshchat")

		default:
			return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
		}
	}

	return PathsIn(configDir), nil
}

// PathsIn returns the paths rooted at configDir
func PathsIn(configDir string) *Paths {
	return &Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, "config.toml"),
		KeyFile:    filepath.Join(configDir, "peer.key"),
		LogFile:    filepath.Join(configDir, "meshchat.log"),
	}
}

// EnsureDirectories creates all required directories with appropriate permissions
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", p.ConfigDir, err)
	}
	return nil
}

// ResolveKeyFile returns the configured key file or the default location
func (p *Paths) ResolveKeyFile(cfg *Config) string {
	if cfg.Identity.KeyFile != "" {
		return cfg.Identity.KeyFile
	}
	return p.KeyFile
}

// ResolveLogFile returns the configured log file or the default location
func (p *Paths) ResolveLogFile(cfg *Config) string {
	if cfg.Logging.File != "" {
		return cfg.Logging.File
	}
	return p.LogFile
}
