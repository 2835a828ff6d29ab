package user

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/internal/cli/prompt"
)

var resetPassword string

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password <username>",
	Short: "Reset a user's password",
	Long: `Reset the password of a wharfd account.

The new password takes effect on the next login attempt; established
sessions are not disconnected. Running this against 'admin' clears the
weak-credential warning logged at startup.

Examples:
  # Reset password interactively
  wharfd user reset-password alice

  # Reset password with a flag (visible in shell history)
  wharfd user reset-password alice --password newsecret`,
	Args: cobra.ExactArgs(1),
	RunE: runResetPassword,
}

func init() {
	resetPasswordCmd.Flags().StringVarP(&resetPassword, "password", "p", "", "New password (prompts if not provided)")
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	username := args[0]

	st, _, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	password := resetPassword
	if password == "" {
		password, err = prompt.PasswordWithConfirmation("New password", "Confirm new password", 8)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	if err := st.SetUserPassword(cmd.Context(), username, password); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	fmt.Printf("Password for '%s' updated\n", username)
	return nil
}
