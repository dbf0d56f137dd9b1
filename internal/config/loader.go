package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is parsed.
const (
	EnvSocketPath = "GLIMPSE_SOCKET"
	EnvPluginDir  = "GLIMPSE_PLUGIN_DIR"
)

// Load reads and parses configuration from a file. An empty path yields the
// defaults. Environment overrides are applied in both cases.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("resolve config path %q: %w", configPath, err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides folds environment variables into cfg. GLIMPSE_PLUGIN_DIR
// is prepended so a session-local plugin dir wins over the system ones.
func applyEnvOverrides(cfg *Config) {
	if sock := os.Getenv(EnvSocketPath); sock != "" {
		cfg.SocketPath = sock
	}
	if dir := strings.TrimSpace(os.Getenv(EnvPluginDir)); dir != "" {
		cfg.PluginDirs = append([]string{dir}, cfg.PluginDirs...)
	}
}

func validate(cfg *Config) error {
	if cfg.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if len(cfg.PluginDirs) == 0 {
		return fmt.Errorf("at least one plugin directory is required")
	}
	if cfg.Supervisor.RestartBackoff <= 0 {
		return fmt.Errorf("supervisor.restart_backoff must be positive")
	}
	if cfg.Supervisor.MaxRestarts < 0 {
		return fmt.Errorf("supervisor.max_restarts must not be negative")
	}
	if cfg.Supervisor.OutboundBuffer <= 0 {
		return fmt.Errorf("supervisor.outbound_buffer must be positive")
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	return nil
}
