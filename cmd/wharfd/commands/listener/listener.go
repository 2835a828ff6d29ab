// Package listener implements listener inspection commands for wharfd.
package listener

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for listener management.
var Cmd = &cobra.Command{
	Use:   "listener",
	Short: "Listener management",
	Long: `Inspect configured listeners.

Listeners are network endpoints stored in the database. Enabled
listeners are bound when the server starts; changes made while the
server is running take effect through the in-process administrative
surface, not this command.

Examples:
  # List all listeners
  wharfd listener list`,
}

func init() {
	Cmd.AddCommand(listCmd)
}
