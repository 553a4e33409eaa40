package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envConfigPath = "SALADICT_CONFIG"
	envBuildMode  = "SALADICT_BUILD_MODE"
	envStateDir   = "SALADICT_STATE_DIR"

	defaultExtensionURL = "chrome-extension://saladict/"
	defaultTraceBuffer  = 256
)

// ErrNotFound is returned by LoadConfig when no config file exists.
var ErrNotFound = errors.New("config.json not found")

// BuildMode selects how the messaging layer reports sends nobody received.
type BuildMode string

const (
	BuildProduction  BuildMode = "production"
	BuildDevelopment BuildMode = "development"
	BuildTest        BuildMode = "test"
)

// ParseBuildMode normalizes a mode name; empty input means production.
func ParseBuildMode(input string) (BuildMode, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "production", "prod":
		return BuildProduction, nil
	case "development", "dev":
		return BuildDevelopment, nil
	case "test":
		return BuildTest, nil
	default:
		return "", fmt.Errorf("unsupported build mode %q", input)
	}
}

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Build   BuildConfig   `json:"build"`
	Logging LoggingConfig `json:"logging,omitempty"`
	Host    HostConfig    `json:"host"`
	Console ConsoleConfig `json:"console,omitempty"`
}

// BuildConfig mirrors the build flavour the extension was packaged with.
type BuildConfig struct {
	Mode BuildMode `json:"mode"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// HostConfig configures the simulated browser host.
type HostConfig struct {
	// StateDir persists storage areas between runs when set.
	StateDir     string `json:"state_dir,omitempty"`
	ExtensionURL string `json:"extension_url,omitempty"`
}

// ConsoleConfig tunes the developer console.
type ConsoleConfig struct {
	TraceBuffer int `json:"trace_buffer,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	mode, err := ParseBuildMode(string(cfg.Build.Mode))
	if err != nil {
		return nil, fmt.Errorf("parse config file: build.mode: %w", err)
	}
	cfg.Build.Mode = mode

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// LoadOrDefault loads config.json and falls back to Default when none exists.
func LoadOrDefault() (*Config, error) {
	cfg, err := LoadConfig()
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	return cfg, err
}

func applyDefaults(cfg *Config) {
	if cfg.Build.Mode == "" {
		cfg.Build.Mode = BuildProduction
	}
	if strings.TrimSpace(cfg.Host.ExtensionURL) == "" {
		cfg.Host.ExtensionURL = defaultExtensionURL
	}
	if cfg.Console.TraceBuffer <= 0 {
		cfg.Console.TraceBuffer = defaultTraceBuffer
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if raw := strings.TrimSpace(os.Getenv(envBuildMode)); raw != "" {
		if mode, err := ParseBuildMode(raw); err == nil {
			cfg.Build.Mode = mode
		}
	}

	if dir := strings.TrimSpace(os.Getenv(envStateDir)); dir != "" {
		cfg.Host.StateDir = dir
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is SALADICT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s and %s)", ErrNotFound, candidates[0], candidates[1])
}
