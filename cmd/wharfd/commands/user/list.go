package user

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
	Short: "List all users",
	Long: `List all wharfd accounts.

Examples:
  # List users as table
  wharfd user list

  # List as JSON
  wharfd user list -o json

  # List as YAML
  wharfd user list -o yaml`,
	RunE: runList,
}

func init() {
	cmdutil.AddOutputFlag(listCmd)
}

// UserList is a list of users for table rendering.
type UserList []*models.User

// Headers implements TableRenderer.
func (ul UserList) Headers() []string {
	return []string{"USERNAME", "PASSWORD", "PUBLIC KEY", "GUI", "CREATED"}
}

// Rows implements TableRenderer.
func (ul UserList) Rows() [][]string {
	rows := make([][]string, 0, len(ul))
	for _, u := range ul {
		hasKey := u.PublicKey != ""
		rows = append(rows, []string{
			u.Username,
			cmdutil.BoolToYesNo(u.PasswordEnabled),
			cmdutil.BoolToYesNo(hasKey),
			cmdutil.BoolToYesNo(u.GUIEnabled),
			timeutil.FormatTime(u.CreatedAt),
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

	users, err := st.ListUsers(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	return cmdutil.PrintList(cmd, os.Stdout, users, len(users) == 0, "No users found.", UserList(users))
}
