// Package activity implements audit log commands for wharfd.
package activity

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for the activity log.
var Cmd = &cobra.Command{
	Use:   "activity",
	Short: "Activity log",
	Long: `Query and maintain the append-only activity log.

Every login, transfer, and denied operation is recorded with the
listener, user, action, and path involved. Records accumulate until
purged, either manually or by the retention loop configured with
activity.retention_days.

Examples:
  # Show the most recent activity
  wharfd activity list

  # Show one user's failed logins in the last day
  wharfd activity list --user alice --action LOGIN_DENIED --since 24h

  # Keep 90 days of records
  wharfd activity retention --days 90

  # Drop records older than 90 days right now
  wharfd activity purge --older-than-days 90`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(purgeCmd)
	Cmd.AddCommand(retentionCmd)
}
