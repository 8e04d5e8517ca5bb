package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencirc/circ/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample circd configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/circ/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  circd init

  # Initialize with custom path
  circd init --config /etc/circ/config.yaml

  # Force overwrite existing config
  circd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s\nUse --force to overwrite", configPath)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: circd start")
	fmt.Printf("  3. Or specify custom config: circd start --config %s\n", configPath)

	return nil
}
