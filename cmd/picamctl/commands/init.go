package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picamops/picamctl/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a picamctl configuration file with documented defaults.

By default, the configuration file is created at $XDG_CONFIG_HOME/picamctl/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  picamctl init

  # Initialize with custom path
  picamctl init --config /etc/picamctl/config.yaml

  # Force overwrite existing config
  picamctl init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to match your deployment")
	fmt.Println("  2. Restart the server with: picamctl restart")
	return nil
}
