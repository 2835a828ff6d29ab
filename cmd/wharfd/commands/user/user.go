// Package user implements user management commands for wharfd.
package user

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for user management.
var Cmd = &cobra.Command{
	Use:   "user",
	Short: "User management",
	Long: `Manage wharfd accounts.

User commands operate directly on the database, so they work whether
or not the server is running. Accounts authenticate only against
listeners they are subscribed to.

Examples:
  # List all users
  wharfd user list

  # Add a user interactively
  wharfd user add

  # Add a user with flags
  wharfd user add --username alice --password secret

  # Reset a password
  wharfd user reset-password alice

  # Delete a user
  wharfd user delete alice`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(resetPasswordCmd)
}
