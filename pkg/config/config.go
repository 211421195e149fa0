// Package config loads and validates the picamctl configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the picamctl configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PICAMCTL_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Every knob the lifecycle manager depends on is an explicit, named field
// with a documented default. Nothing is hard-coded to a deployment path.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server describes the managed target server: how to find it,
	// how to launch it, and where to probe it.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Lifecycle contains the timing parameters of the restart workflow.
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// ServerConfig describes the managed target server process.
type ServerConfig struct {
	// Pattern is the substring matched against full command lines to
	// discover running instances of the target server. The manager's own
	// process is always excluded from matches.
	// Default: "pi_server/app.py"
	Pattern string `mapstructure:"pattern" yaml:"pattern"`

	// Port is the TCP port the target server listens on.
	// Default: 5000
	Port int `mapstructure:"port" yaml:"port"`

	// Command is the argv used to launch a fresh instance.
	// Default: ["python3", "app.py"]
	Command []string `mapstructure:"command" yaml:"command"`

	// WorkDir is the working directory for the launched process.
	// Default: $HOME/pi-server
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`

	// HealthPath is the path of the liveness endpoint on localhost:<port>.
	// Default: /health
	HealthPath string `mapstructure:"health_path" yaml:"health_path"`
}

// LifecycleConfig contains the timing parameters of the restart workflow.
type LifecycleConfig struct {
	// GracePeriod is how long to wait after SIGTERM before escalating
	// to SIGKILL. Default: 2s
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`

	// WarmupPeriod is how long to wait after launch before probing.
	// Default: 3s
	WarmupPeriod time.Duration `mapstructure:"warmup_period" yaml:"warmup_period"`

	// ProbeTimeout bounds the single liveness probe HTTP request.
	// Default: 5s
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration. A missing config file is
// not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration is internally consistent.
func Validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logging.level: invalid level %q", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format: invalid format %q (valid: text, json)", cfg.Logging.Format)
	}

	if cfg.Server.Pattern == "" {
		return fmt.Errorf("server.pattern: must not be empty")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range [1, 65535]", cfg.Server.Port)
	}

	if len(cfg.Server.Command) == 0 {
		return fmt.Errorf("server.command: must not be empty")
	}

	if !strings.HasPrefix(cfg.Server.HealthPath, "/") {
		return fmt.Errorf("server.health_path: %q must start with /", cfg.Server.HealthPath)
	}

	if cfg.Lifecycle.GracePeriod <= 0 {
		return fmt.Errorf("lifecycle.grace_period: must be positive")
	}

	if cfg.Lifecycle.WarmupPeriod <= 0 {
		return fmt.Errorf("lifecycle.warmup_period: must be positive")
	}

	if cfg.Lifecycle.ProbeTimeout <= 0 {
		return fmt.Errorf("lifecycle.probe_timeout: must be positive")
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the PICAMCTL_ prefix and underscores.
	// Example: PICAMCTL_SERVER_PORT=5000
	v.SetEnvPrefix("PICAMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns the decode hook used for custom types.
// Durations can be written as strings like "2s" or "500ms".
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch from.Kind() {
		case reflect.String:
			return time.ParseDuration(data.(string))
		case reflect.Int, reflect.Int64, reflect.Float64:
			// Bare numbers in the config are interpreted as seconds
			return time.Duration(reflect.ValueOf(data).Convert(reflect.TypeOf(int64(0))).Int()) * time.Second, nil
		default:
			return data, nil
		}
	}
}
