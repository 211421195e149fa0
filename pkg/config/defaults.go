package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default timing parameters for the restart workflow. These bound how long
// the manager waits before escalating to SIGKILL and before probing.
const (
	DefaultGracePeriod  = 2 * time.Second
	DefaultWarmupPeriod = 3 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// DefaultPort is the port the pi_server Flask app listens on.
const DefaultPort = 5000

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyLifecycleDefaults(&cfg.Lifecycle)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyServerDefaults fills in the pi_server defaults for the managed process.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Pattern == "" {
		cfg.Pattern = "pi_server/app.py"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"python3", "app.py"}
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaultWorkDir()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
}

func applyLifecycleDefaults(cfg *LifecycleConfig) {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.WarmupPeriod == 0 {
		cfg.WarmupPeriod = DefaultWarmupPeriod
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
}

// GetDefaultConfig returns a configuration with all defaults applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func defaultWorkDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "pi-server"
	}
	return filepath.Join(homeDir, "pi-server")
}

// getConfigDir returns the directory searched for the config file:
// $XDG_CONFIG_HOME/picamctl, falling back to ~/.config/picamctl.
func getConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "picamctl")
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "picamctl")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// InitConfig writes a default configuration file to the default location.
// Returns the path written. Refuses to overwrite unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file to the given path.
// Refuses to overwrite unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	return SaveConfig(GetDefaultConfig(), path)
}
