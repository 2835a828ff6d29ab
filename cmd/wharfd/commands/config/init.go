package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a wharfd configuration file populated with defaults.

By default, the configuration file is created at
$XDG_CONFIG_HOME/wharfd/wharfd.yaml. Use --config to specify a custom path.

Examples:
  # Initialize with default location
  wharfd config init

  # Initialize with custom path
  wharfd config init --config /etc/wharfd/wharfd.yaml

  # Force overwrite existing config
  wharfd config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := cmdutil.ConfigPath(cmd)
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s\nUse --force to overwrite", configPath)
	}

	if err := config.Save(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: wharfd start")
	fmt.Printf("  3. Or specify custom config: wharfd start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  The first start seeds an 'admin' account with a default password.")
	fmt.Println("  Change it before exposing any listener:")
	fmt.Println("    wharfd user reset-password admin")

	return nil
}
