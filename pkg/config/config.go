package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied through the accessors.
//
// Example (~/.parley/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8200
// engine:
//   history_limit: 16
//   default_max_rounds: 40
//   max_consecutive_failures: 3
//   facilitator_cadence: 3
//   rounds_per_act: 4
//   call_timeout_seconds: 30
//   prompt_char_budget: 6000
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

// EngineConfig holds the scheduler tunables. The facilitator cadence and
// per-act round budget are configuration rather than hardcoded values: the
// right numbers depend on how chatty the chosen models are.
type EngineConfig struct {
	HistoryLimit           *int     `yaml:"history_limit"`            // turns kept in a prompt context
	DefaultMaxRounds       *int     `yaml:"default_max_rounds"`       // round ceiling when start() gives none
	MaxConsecutiveFailures *int     `yaml:"max_consecutive_failures"` // fail streak that ends the room
	FacilitatorCadence     *int     `yaml:"facilitator_cadence"`      // facilitator speaks every N rounds
	RoundsPerAct           *int     `yaml:"rounds_per_act"`           // rounds in an act before it may advance
	CallTimeoutSeconds     *float64 `yaml:"call_timeout_seconds"`     // per model call, independent of pacing
	PromptCharBudget       *int     `yaml:"prompt_char_budget"`       // rendered history size cap
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8200

	DefaultHistoryLimit           = 16
	DefaultMaxRounds              = 40
	DefaultMaxConsecutiveFailures = 3
	DefaultFacilitatorCadence     = 3
	DefaultRoundsPerAct           = 4
	DefaultCallTimeoutSeconds     = 30.0
	DefaultPromptCharBudget       = 6000
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".parley")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.parley/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	if v := cfg.MaxConsecutiveFailures(); v < 1 {
		return nil, "", fmt.Errorf("invalid engine.max_consecutive_failures %d in %s", v, configFile)
	}
	if v := cfg.FacilitatorCadence(); v < 1 {
		return nil, "", fmt.Errorf("invalid engine.facilitator_cadence %d in %s", v, configFile)
	}
	if v := cfg.RoundsPerAct(); v < 1 {
		return nil, "", fmt.Errorf("invalid engine.rounds_per_act %d in %s", v, configFile)
	}
	if v := cfg.CallTimeoutSeconds(); v <= 0 {
		return nil, "", fmt.Errorf("invalid engine.call_timeout_seconds %v in %s", v, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)}}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) HistoryLimit() int {
	if c == nil || c.Engine.HistoryLimit == nil || *c.Engine.HistoryLimit < 1 {
		return DefaultHistoryLimit
	}
	return *c.Engine.HistoryLimit
}

func (c *AppConfig) DefaultMaxRounds() int {
	if c == nil || c.Engine.DefaultMaxRounds == nil || *c.Engine.DefaultMaxRounds < 1 {
		return DefaultMaxRounds
	}
	return *c.Engine.DefaultMaxRounds
}

func (c *AppConfig) MaxConsecutiveFailures() int {
	if c == nil || c.Engine.MaxConsecutiveFailures == nil {
		return DefaultMaxConsecutiveFailures
	}
	return *c.Engine.MaxConsecutiveFailures
}

func (c *AppConfig) FacilitatorCadence() int {
	if c == nil || c.Engine.FacilitatorCadence == nil {
		return DefaultFacilitatorCadence
	}
	return *c.Engine.FacilitatorCadence
}

func (c *AppConfig) RoundsPerAct() int {
	if c == nil || c.Engine.RoundsPerAct == nil {
		return DefaultRoundsPerAct
	}
	return *c.Engine.RoundsPerAct
}

func (c *AppConfig) CallTimeoutSeconds() float64 {
	if c == nil || c.Engine.CallTimeoutSeconds == nil {
		return DefaultCallTimeoutSeconds
	}
	return *c.Engine.CallTimeoutSeconds
}

func (c *AppConfig) PromptCharBudget() int {
	if c == nil || c.Engine.PromptCharBudget == nil || *c.Engine.PromptCharBudget < 1 {
		return DefaultPromptCharBudget
	}
	return *c.Engine.PromptCharBudget
}

func ptr[T any](v T) *T { return &v }
