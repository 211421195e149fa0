package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/picamops/picamctl/internal/logger"
	"github.com/picamops/picamctl/pkg/config"
	"github.com/picamops/picamctl/pkg/lifecycle"
)

// setup loads configuration, initializes the logger, and builds a Manager.
// Shared by every lifecycle subcommand.
func setup() (*config.Config, *lifecycle.Manager, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	launcher := &lifecycle.ExecLauncher{
		Command: cfg.Server.Command,
		WorkDir: cfg.Server.WorkDir,
		LogFile: GetDefaultLogFile(),
		PidFile: GetDefaultPidFile(),
	}

	m := lifecycle.New(cfg, lifecycle.WithLauncher(launcher))
	return cfg, m, nil
}

// GetDefaultStateDir returns the default state directory path.
func GetDefaultStateDir() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData != "" {
			return filepath.Join(localAppData, "picamctl")
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "picamctl")
		}
		return filepath.Join(homeDir, "AppData", "Local", "picamctl")
	}

	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "picamctl")
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "picamctl")
}

// GetDefaultPidFile returns the default PID file path for the launched server.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "pi-server.pid")
}

// GetDefaultLogFile returns the default log file path for the launched server.
func GetDefaultLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "pi-server.log")
}

// ensureStateDir creates the state directory before launching.
func ensureStateDir() error {
	if err := os.MkdirAll(GetDefaultStateDir(), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}
