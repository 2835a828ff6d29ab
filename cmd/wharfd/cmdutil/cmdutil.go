// Package cmdutil provides shared utilities for wharfd commands.
package cmdutil

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/internal/cli/output"
	"github.com/wharfd/wharfd/internal/cli/prompt"
	"github.com/wharfd/wharfd/pkg/config"
	"github.com/wharfd/wharfd/pkg/store"
)

// ConfigPath returns the --config persistent flag value. Cobra resolves
// persistent flags through the parent chain, so this works from any
// subcommand depth.
func ConfigPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// LoadConfig loads the configuration named by the --config flag, falling
// back to the default search locations and built-in defaults.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.MustLoad(ConfigPath(cmd))
}

// ResolveDatabasePath anchors a relative SQLite path to the server data
// directory, so the documented default (config/wharfd.db) lands next to
// the host keys regardless of the working directory.
func ResolveDatabasePath(cfg *config.Config) {
	cfg.Database.ApplyDefaults()
	if cfg.Database.Type != store.DatabaseTypeSQLite {
		return
	}
	if p := cfg.Database.SQLite.Path; !filepath.IsAbs(p) {
		cfg.Database.SQLite.Path = filepath.Join(cfg.Server.DataDir, p)
	}
}

// OpenStore loads configuration and opens the database for a direct-store
// admin command. SQLite runs in WAL mode with a busy timeout, so these
// commands can run while the server is up. The caller owns Close.
func OpenStore(cmd *cobra.Command) (*store.GORMStore, *config.Config, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	ResolveDatabasePath(cfg)

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, cfg, nil
}

// AddOutputFlag registers the -o/--output format flag on a list command.
func AddOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "Output format (table|json|yaml)")
}

// OutputFormat parses the --output flag. Commands without the flag
// default to table format.
func OutputFormat(cmd *cobra.Command) (output.Format, error) {
	raw, _ := cmd.Flags().GetString("output")
	return output.ParseFormat(raw)
}

// PrintList prints a listing in the format selected by --output.
// Table format prints emptyMsg when there are no rows; JSON and YAML
// render the data as-is.
func PrintList(cmd *cobra.Command, w io.Writer, data any, isEmpty bool, emptyMsg string, table output.TableRenderer) error {
	format, err := OutputFormat(cmd)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, table)
	}
}

// HandleAbort checks if error is an abort (Ctrl+C) and prints a message.
// Returns nil for abort (user cancelled), otherwise returns the original error.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}

// BoolToYesNo converts a boolean to "yes" or "no" string.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr returns the value if not empty, otherwise returns the fallback.
// Useful for table display where empty fields should show "-".
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
