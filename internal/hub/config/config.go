// Package config loads the hub's YAML configuration file, expanding
// ${VAR} environment references and parsing duration strings.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete hub configuration surface.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Replay   ReplayConfig   `yaml:"replay"`
	Agents   AgentsConfig   `yaml:"agents"`
	Tailnet  TailnetConfig  `yaml:"tailnet"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the Message Store's sqlite path.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds Token Service settings.
type AuthConfig struct {
	Secret     string `yaml:"secret"`
	TokenTTL   time.Duration `yaml:"-"`
	TokenTTLRaw string `yaml:"token_ttl"`
}

// ReplayConfig holds Reconnect Replay tuning.
type ReplayConfig struct {
	PollInterval    time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
	MaxBackoff      time.Duration `yaml:"-"`
	MaxBackoffRaw   string        `yaml:"max_backoff"`
}

// AgentsConfig holds per-session tuning.
type AgentsConfig struct {
	SessionQueueBound int `yaml:"session_queue_bound"` // 0 = fixed 256-entry queue that drops new messages when full
	DedupeTTL         time.Duration `yaml:"-"`
	DedupeTTLRaw      string        `yaml:"dedupe_ttl"`
	DedupeMaxSize     int `yaml:"dedupe_max_size"`
}

// TailnetConfig optionally exposes the gRPC listener over Tailscale
// instead of (or in addition to) a public address.
type TailnetConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	Ephemeral bool   `yaml:"ephemeral"`
	StateDir  string `yaml:"state_dir"`
}

// MatrixConfig is parsed from the hub's YAML file but is not read by
// hubd; cmd/hub-notify loads its own TOML configuration instead.
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Homeserver   string   `yaml:"homeserver"`
	UserID       string   `yaml:"user_id"`
	AccessToken  string   `yaml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms"`
}

// LoggingConfig controls the ambient slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "color"
}

// Load reads path, expands ${VAR} environment references, and parses
// duration fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = "[::]:50051"
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "[::]:8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "hub.db"
	}
	if cfg.Auth.TokenTTLRaw == "" {
		cfg.Auth.TokenTTLRaw = "24h"
	}
	if cfg.Replay.PollIntervalRaw == "" {
		cfg.Replay.PollIntervalRaw = "2s"
	}
	if cfg.Replay.MaxBackoffRaw == "" {
		cfg.Replay.MaxBackoffRaw = "30s"
	}
	if cfg.Agents.DedupeTTLRaw == "" {
		cfg.Agents.DedupeTTLRaw = "10m"
	}
	if cfg.Agents.DedupeMaxSize == 0 {
		cfg.Agents.DedupeMaxSize = 10000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "color"
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the corresponding environment
// variable, or the empty string if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw); err != nil {
		return fmt.Errorf("parsing auth.token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
	}
	if cfg.Replay.PollInterval, err = time.ParseDuration(cfg.Replay.PollIntervalRaw); err != nil {
		return fmt.Errorf("parsing replay.poll_interval %q: %w", cfg.Replay.PollIntervalRaw, err)
	}
	if cfg.Replay.MaxBackoff, err = time.ParseDuration(cfg.Replay.MaxBackoffRaw); err != nil {
		return fmt.Errorf("parsing replay.max_backoff %q: %w", cfg.Replay.MaxBackoffRaw, err)
	}
	if cfg.Agents.DedupeTTL, err = time.ParseDuration(cfg.Agents.DedupeTTLRaw); err != nil {
		return fmt.Errorf("parsing agents.dedupe_ttl %q: %w", cfg.Agents.DedupeTTLRaw, err)
	}
	return nil
}
