package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/internal/cli/output"
	"github.com/wharfd/wharfd/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the wharfd configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  wharfd config validate

  # Validate specific config file
  wharfd config validate --config /etc/wharfd/wharfd.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath := cmdutil.ConfigPath(cmd)

	// Load runs defaults and the validator over the result
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.FTP.PassivePortRange != "" {
		if _, _, err := config.ParsePassivePortRange(cfg.FTP.PassivePortRange); err != nil {
			warnings = append(warnings, err.Error())
		}
	}
	if !cfg.Ops.Enabled {
		warnings = append(warnings, "ops endpoint disabled - /healthz and /metrics will not be served")
	}
	if cfg.Activity.RetentionDays == 0 {
		warnings = append(warnings, "activity retention unlimited - the audit table grows without bound")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	return output.SimpleTable(os.Stdout, [][2]string{
		{"Data directory", cfg.Server.DataDir},
		{"Database type", string(cfg.Database.Type)},
		{"Log level", cfg.Logging.Level},
		{"Idle timeout", cfg.Server.IdleTimeout().String()},
		{"Max connections", fmt.Sprintf("%d", cfg.Server.MaxConnections)},
	})
}
