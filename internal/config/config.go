// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Shell   ShellConfig   `mapstructure:"shell"`
	Globals GlobalsConfig `mapstructure:"globals"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains display socket settings
type ServerConfig struct {
	Socket        string `mapstructure:"socket"`         // Empty picks the first free wayland-N
	ControlSocket string `mapstructure:"control_socket"` // Empty uses $XDG_RUNTIME_DIR/wlrt-control.sock
	MaxClients    int    `mapstructure:"max_clients"`    // 0 means unlimited
	Trace         bool   `mapstructure:"trace"`          // Log every request and event
}

// ShellConfig contains shell protocol settings
type ShellConfig struct {
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
	SeatName    string        `mapstructure:"seat_name"`
}

// GlobalsConfig selects which optional globals are advertised.
// wl_compositor and wl_shm are always present.
type GlobalsConfig struct {
	XDGShell   bool `mapstructure:"xdg_shell"`
	WlShell    bool `mapstructure:"wl_shell"`
	Viewporter bool `mapstructure:"viewporter"`
	Foreign    bool `mapstructure:"foreign"`
	Seat       bool `mapstructure:"seat"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Server: ServerConfig{
			Socket:        "",
			ControlSocket: "",
			MaxClients:    0,
			Trace:         false,
		},
		Shell: ShellConfig{
			PingTimeout: 10 * time.Second,
			SeatName:    "seat0",
		},
		Globals: GlobalsConfig{
			XDGShell:   true,
			WlShell:    true,
			Viewporter: true,
			Foreign:    true,
			Seat:       true,
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("wlrt")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		viper.AddConfigPath("/etc/wlrt")
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "wlrt"))
		}
		viper.AddConfigPath(".")
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("server.socket", DefaultConfig.Server.Socket)
	viper.SetDefault("server.control_socket", DefaultConfig.Server.ControlSocket)
	viper.SetDefault("server.max_clients", DefaultConfig.Server.MaxClients)
	viper.SetDefault("server.trace", DefaultConfig.Server.Trace)

	viper.SetDefault("shell.ping_timeout", DefaultConfig.Shell.PingTimeout)
	viper.SetDefault("shell.seat_name", DefaultConfig.Shell.SeatName)

	viper.SetDefault("globals.xdg_shell", DefaultConfig.Globals.XDGShell)
	viper.SetDefault("globals.wl_shell", DefaultConfig.Globals.WlShell)
	viper.SetDefault("globals.viewporter", DefaultConfig.Globals.Viewporter)
	viper.SetDefault("globals.foreign", DefaultConfig.Globals.Foreign)
	viper.SetDefault("globals.seat", DefaultConfig.Globals.Seat)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	viper.SetEnvPrefix("WLRT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if cfg.Shell.PingTimeout <= 0 {
		return fmt.Errorf("shell.ping_timeout must be positive, got %s", cfg.Shell.PingTimeout)
	}
	if cfg.Server.MaxClients < 0 {
		return fmt.Errorf("server.max_clients must not be negative, got %d", cfg.Server.MaxClients)
	}

	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	// Check if config file is already loaded
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if os.Getuid() == 0 {
		return "/etc/wlrt/wlrt.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/wlrt/wlrt.toml"
	}

	return filepath.Join(home, ".config", "wlrt", "wlrt.toml")
}

// UpdateGlobals updates which globals are advertised
func UpdateGlobals(globals GlobalsConfig) error {
	viper.Set("globals.xdg_shell", globals.XDGShell)
	viper.Set("globals.wl_shell", globals.WlShell)
	viper.Set("globals.viewporter", globals.Viewporter)
	viper.Set("globals.foreign", globals.Foreign)
	viper.Set("globals.seat", globals.Seat)
	Get().Globals = globals
	return Save()
}
