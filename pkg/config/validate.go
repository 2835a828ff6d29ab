package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Struct tags (go-playground/validator) cover field-level constraints;
// cross-field rules that tags cannot express are checked explicitly.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	// Database section has its own validation (type switch).
	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Passive port range must parse when set.
	if cfg.FTP.PassivePortRange != "" {
		if _, _, err := ParsePassivePortRange(cfg.FTP.PassivePortRange); err != nil {
			return fmt.Errorf("ftp: %w", err)
		}
	}

	// Tracing needs somewhere to send spans.
	if cfg.Telemetry.Tracing.Enabled && cfg.Telemetry.Tracing.Endpoint == "" {
		return fmt.Errorf("telemetry: tracing enabled but no endpoint configured")
	}

	// Profiling needs a Pyroscope server.
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry: profiling enabled but no endpoint configured")
	}

	// Ops endpoint needs an address when enabled.
	if cfg.Ops.Enabled && cfg.Ops.ListenAddress == "" {
		return fmt.Errorf("ops: enabled but no listen_address configured")
	}

	return nil
}
