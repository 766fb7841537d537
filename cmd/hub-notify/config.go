// ABOUTME: Configuration loading for the hub-notify Matrix relay
package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Config is hub-notify's standalone TOML configuration.
type Config struct {
	Matrix MatrixConfig `toml:"matrix"`
	Hub    HubConfig    `toml:"hub"`
}

// MatrixConfig holds the relay's own Matrix account credentials.
type MatrixConfig struct {
	Homeserver   string   `toml:"homeserver"`
	UserID       string   `toml:"user_id"`
	AccessToken  string   `toml:"access_token"`
	AllowedRooms []string `toml:"allowed_rooms"`
	RoomID       string   `toml:"room_id"` // room to post hub traffic into
}

// HubConfig points at the hub this relay watches.
type HubConfig struct {
	GRPCAddr string `toml:"grpc_addr"`
	Token    string `toml:"token"` // bearer token for a dedicated "notifier" agent identity
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path, expanding ${VAR} environment references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields are present.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Hub.GRPCAddr == "" {
		return fmt.Errorf("hub.grpc_addr is required")
	}
	return nil
}
