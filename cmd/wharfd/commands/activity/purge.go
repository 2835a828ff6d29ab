package activity

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/internal/cli/prompt"
)

var (
	purgeOlderThanDays int
	purgeForce         bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old activity records",
	Long: `Delete activity records older than a cutoff.

This is the manual counterpart of the activity.retention_days setting.
Purged records are gone for good. You will be prompted for
confirmation unless --force is specified.

Examples:
  # Drop everything older than 90 days
  wharfd activity purge --older-than-days 90

  # Same, without confirmation
  wharfd activity purge --older-than-days 90 --force`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().IntVar(&purgeOlderThanDays, "older-than-days", 0, "Delete records older than this many days (required)")
	purgeCmd.Flags().BoolVarP(&purgeForce, "force", "f", false, "Skip confirmation prompt")
	_ = purgeCmd.MarkFlagRequired("older-than-days")
}

func runPurge(cmd *cobra.Command, args []string) error {
	if purgeOlderThanDays <= 0 {
		return fmt.Errorf("--older-than-days must be positive, got %d", purgeOlderThanDays)
	}

	st, _, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	confirmed, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Delete all activity records older than %d days?", purgeOlderThanDays), purgeForce)
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -purgeOlderThanDays)
	purged, err := st.PurgeActivitiesOlderThan(cmd.Context(), cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge activities: %w", err)
	}

	fmt.Printf("Purged %d activity records\n", purged)
	return nil
}
