package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config represents the complete glimpsed configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	SocketPath string           `yaml:"socket_path"`
	PluginDirs []string         `yaml:"plugin_dirs"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	History    HistoryConfig    `yaml:"history"`
	API        APIConfig        `yaml:"api,omitempty"`
}

// ServiceConfig defines core daemon settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LockPath  string `yaml:"lock_path"`
}

// SupervisorConfig defines plugin process supervision settings.
type SupervisorConfig struct {
	// RestartBackoff is the fixed delay between a plugin exit and its restart.
	RestartBackoff time.Duration `yaml:"restart_backoff"`
	// MaxRestarts bounds the restart loop per plugin; 0 retries forever.
	MaxRestarts int `yaml:"max_restarts"`
	// OutboundBuffer is the per-plugin outbound channel capacity.
	OutboundBuffer int `yaml:"outbound_buffer"`
}

// DispatchConfig names the platform utilities actions are handed to.
type DispatchConfig struct {
	ClipboardCmd string `yaml:"clipboard_cmd"`
	OpenerCmd    string `yaml:"opener_cmd"`
	LauncherCmd  string `yaml:"launcher_cmd"`
}

// HistoryConfig defines the activation history store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines the optional HTTP introspection server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns a Config with working defaults for a local session.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "glimpsed",
			LogLevel:  "INFO",
			LogFormat: "text",
			LockPath:  filepath.Join(runtimeDir(), "glimpsed.lock"),
		},
		SocketPath: filepath.Join(runtimeDir(), "glimpsed.sock"),
		PluginDirs: defaultPluginDirs(),
		Supervisor: SupervisorConfig{
			RestartBackoff: 3 * time.Second,
			MaxRestarts:    0,
			OutboundBuffer: 32,
		},
		Dispatch: DispatchConfig{
			ClipboardCmd: "wl-copy",
			OpenerCmd:    "xdg-open",
			LauncherCmd:  "gtk-launch",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir(), "glimpse", "history.db"),
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:7345",
		},
	}
}

func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".local", "share")
}

func defaultPluginDirs() []string {
	return []string{
		filepath.Join(dataDir(), "glimpse", "plugins"),
		"/usr/local/lib/glimpse/plugins",
		"/usr/lib/glimpse/plugins",
	}
}
