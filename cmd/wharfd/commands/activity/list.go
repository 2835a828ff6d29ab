package activity

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/internal/cli/timeutil"
	"github.com/wharfd/wharfd/pkg/models"
	"github.com/wharfd/wharfd/pkg/store"
)

var (
	listUser     string
	listListener string
	listAction   string
	listSince    string
	listLimit    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List activity records",
	Long: `List activity records, newest first.

Examples:
  # Most recent 50 records
  wharfd activity list

  # Everything one user did
  wharfd activity list --user alice --limit 200

  # Failed logins in the last hour
  wharfd activity list --action LOGIN_DENIED --since 1h

  # Records for one listener as JSON
  wharfd activity list --listener <listener-id> -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listUser, "user", "", "Filter by username")
	listCmd.Flags().StringVar(&listListener, "listener", "", "Filter by listener ID")
	listCmd.Flags().StringVar(&listAction, "action", "", "Filter by action (LOGIN, DOWNLOAD, OPEN_DENIED, ...)")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only records since a duration (30m) or RFC3339 timestamp")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of records (0 for all)")
	cmdutil.AddOutputFlag(listCmd)
}

// ActivityList renders activity records with listener IDs resolved to
// names where the listener still exists.
type ActivityList struct {
	records       []*models.ActivityRecord
	listenerNames map[string]string
}

// Headers implements TableRenderer.
func (al ActivityList) Headers() []string {
	return []string{"TIME", "USER", "ACTION", "PATH", "OK", "LISTENER"}
}

// Rows implements TableRenderer.
func (al ActivityList) Rows() [][]string {
	rows := make([][]string, 0, len(al.records))
	for _, r := range al.records {
		listener := "-"
		if r.ListenerID != nil {
			listener = *r.ListenerID
			if name, ok := al.listenerNames[listener]; ok {
				listener = name
			}
		}
		rows = append(rows, []string{
			timeutil.FormatTime(r.Timestamp),
			cmdutil.EmptyOr(r.Username, "-"),
			r.Action,
			cmdutil.EmptyOr(r.Path, "-"),
			cmdutil.BoolToYesNo(r.Success),
			listener,
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	st, _, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	filter := store.ActivityFilter{
		Username:   listUser,
		ListenerID: listListener,
		Action:     listAction,
		Limit:      listLimit,
	}
	if listSince != "" {
		since, err := timeutil.ParseSince(listSince)
		if err != nil {
			return err
		}
		filter.Since = since
	}

	records, err := st.ListActivities(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list activities: %w", err)
	}

	names := make(map[string]string)
	if listeners, err := st.ListListeners(cmd.Context()); err == nil {
		for _, l := range listeners {
			names[l.ID] = l.Name
		}
	}

	table := ActivityList{records: records, listenerNames: names}
	return cmdutil.PrintList(cmd, os.Stdout, records, len(records) == 0, "No activity recorded.", table)
}
