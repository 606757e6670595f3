package agent

import (
	"github.com/hazyhaar/stashbridge/agent/internal/config"
)

// Config is the top-level agent configuration. Re-exported from internal.
type Config = config.Config

// DevToolsConfig locates the browser under control.
type DevToolsConfig = config.DevToolsConfig

// CommunityConfig points at the remote community service.
type CommunityConfig = config.CommunityConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return config.Default()
}
