package listener

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/internal/cli/timeutil"
	"github.com/wharfd/wharfd/pkg/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all listeners",
	Long: `List all configured listeners.

Examples:
  # List listeners as table
  wharfd listener list

  # List as JSON
  wharfd listener list -o json`,
	RunE: runList,
}

func init() {
	cmdutil.AddOutputFlag(listCmd)
}

// ListenerList is a list of listeners for table rendering.
type ListenerList []*models.Listener

// Headers implements TableRenderer.
func (ll ListenerList) Headers() []string {
	return []string{"NAME", "PROTOCOL", "ADDRESS", "ENABLED", "CREATED"}
}

// Rows implements TableRenderer.
func (ll ListenerList) Rows() [][]string {
	rows := make([][]string, 0, len(ll))
	for _, l := range ll {
		rows = append(rows, []string{
			l.Name,
			string(l.Protocol),
			l.Address(),
			cmdutil.BoolToYesNo(l.Enabled),
			timeutil.FormatTime(l.CreatedAt),
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

	listeners, err := st.ListListeners(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list listeners: %w", err)
	}

	return cmdutil.PrintList(cmd, os.Stdout, listeners, len(listeners) == 0, "No listeners found.", ListenerList(listeners))
}
