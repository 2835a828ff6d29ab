// Package commands implements the CLI commands for wharfd server management.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/commands/activity"
	configcmd "github.com/wharfd/wharfd/cmd/wharfd/commands/config"
	"github.com/wharfd/wharfd/cmd/wharfd/commands/listener"
	usercmd "github.com/wharfd/wharfd/cmd/wharfd/commands/user"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wharfd",
	Short: "wharfd - Multi-protocol file transfer server",
	Long: `wharfd is a multi-tenant file transfer server speaking SFTP and FTP.

Listeners, users, and grants live in a database (SQLite by default,
PostgreSQL for HA); every file operation is checked against per-listener
capabilities and per-user virtual path mappings, and recorded in an
append-only activity log.

Use "wharfd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./wharfd.yaml, $XDG_CONFIG_HOME/wharfd/wharfd.yaml, /etc/wharfd/wharfd.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(usercmd.Cmd)
	rootCmd.AddCommand(listener.Cmd)
	rootCmd.AddCommand(activity.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
