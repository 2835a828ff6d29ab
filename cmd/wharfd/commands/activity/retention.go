package activity

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/pkg/models"
)

var retentionDays int

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Show or set the retention window",
	Long: `Show or set the activity.retention_days setting.

The purge loop re-reads the setting on every sweep, so a new value
takes effect on a running server without a restart. A value of 0
disables automatic purging. When no setting is stored, the
activity.retention_days config value applies.

Examples:
  # Show the current retention window
  wharfd activity retention

  # Keep 90 days of records
  wharfd activity retention --days 90

  # Disable automatic purging
  wharfd activity retention --days 0`,
	RunE: runRetention,
}

func init() {
	retentionCmd.Flags().IntVar(&retentionDays, "days", 0, "Retention window in days (0 disables purging)")
}

func runRetention(cmd *cobra.Command, args []string) error {
	st, cfg, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if cmd.Flags().Changed("days") {
		if retentionDays < 0 {
			return fmt.Errorf("--days must be zero or positive, got %d", retentionDays)
		}
		if err := st.SetSetting(cmd.Context(), models.SettingActivityRetentionDays, strconv.Itoa(retentionDays)); err != nil {
			return fmt.Errorf("failed to store retention setting: %w", err)
		}
		if retentionDays == 0 {
			fmt.Println("Automatic purging disabled")
		} else {
			fmt.Printf("Retention window set to %d days\n", retentionDays)
		}
		return nil
	}

	value, err := st.GetSetting(cmd.Context(), models.SettingActivityRetentionDays)
	if err != nil {
		return fmt.Errorf("failed to read retention setting: %w", err)
	}
	if value == "" {
		if cfg.Activity.RetentionDays > 0 {
			fmt.Printf("Retention window: %d days (config default, no setting stored)\n", cfg.Activity.RetentionDays)
		} else {
			fmt.Println("Retention window: not set (automatic purging disabled)")
		}
		return nil
	}

	days, convErr := strconv.Atoi(value)
	switch {
	case convErr != nil:
		fmt.Printf("Retention setting %q is malformed; the config value of %d days applies\n", value, cfg.Activity.RetentionDays)
	case days == 0:
		fmt.Println("Retention window: 0 days (automatic purging disabled)")
	default:
		fmt.Printf("Retention window: %d days\n", days)
	}
	return nil
}
