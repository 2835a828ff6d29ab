package user

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/internal/cli/prompt"
	"github.com/wharfd/wharfd/pkg/models"
)

var (
	addUsername  string
	addPassword  string
	addPublicKey string
	addGUI       bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new user",
	Long: `Add a new wharfd account.

If username or password are not provided via flags, you will be
prompted to enter them interactively. A fresh account cannot log in
anywhere until it is subscribed to a listener.

Examples:
  # Add a user interactively
  wharfd user add

  # Add a user with flags
  wharfd user add --username alice --password secret

  # Add a key-only user (no password prompt)
  wharfd user add --username ci --public-key "ssh-ed25519 AAAA... ci@host"`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addUsername, "username", "u", "", "Username (prompts if not provided)")
	addCmd.Flags().StringVarP(&addPassword, "password", "p", "", "Password (prompts if not provided)")
	addCmd.Flags().StringVar(&addPublicKey, "public-key", "", "Authorized public key in authorized_keys format")
	addCmd.Flags().BoolVar(&addGUI, "gui", false, "Allow administrative frontend access")
}

func runAdd(cmd *cobra.Command, args []string) error {
	st, _, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	username := addUsername
	if username == "" {
		username, err = prompt.InputRequired("Username")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	// Key-only accounts skip the password prompt.
	password := addPassword
	if password == "" && addPublicKey == "" {
		password, err = prompt.PasswordWithConfirmation("Password", "Confirm password", 8)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	u := &models.User{
		Username:   username,
		PublicKey:  addPublicKey,
		GUIEnabled: addGUI,
	}
	if password != "" {
		u.SetPassword(password)
	}

	if _, err := st.CreateUser(cmd.Context(), u); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User '%s' created successfully\n", username)
	fmt.Println("Subscribe the user to a listener before first login.")
	return nil
}
