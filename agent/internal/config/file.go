// Package config handles agent configuration from YAML files.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level agent configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	DevTools  DevToolsConfig  `yaml:"devtools"`
	Community CommunityConfig `yaml:"community"`
}

// DevToolsConfig locates the browser under control and the companion script
// it injects.
type DevToolsConfig struct {
	URL             string `yaml:"url"`
	CompanionSource string `yaml:"companion_source"`
	RegistrationDB  string `yaml:"registration_db"`
}

// CommunityConfig points at the remote community service endpoints.
type CommunityConfig struct {
	ProfileURL    string `yaml:"profile_url"`
	InventoryBase string `yaml:"inventory_base"`
	Base          string `yaml:"base"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8089"
	}
	if c.DevTools.CompanionSource == "" {
		c.DevTools.CompanionSource = "companion.js"
	}
	if c.DevTools.RegistrationDB == "" {
		c.DevTools.RegistrationDB = "stashbridge.db"
	}
	if c.Community.Base == "" {
		c.Community.Base = "https://steamcommunity.com"
	}
	if c.Community.ProfileURL == "" {
		c.Community.ProfileURL = c.Community.Base + "/my?xml=1"
	}
	if c.Community.InventoryBase == "" {
		c.Community.InventoryBase = c.Community.Base + "/inventory"
	}
}
