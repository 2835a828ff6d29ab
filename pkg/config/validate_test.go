package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_MissingDataDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.DataDir = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing data dir")
	}
}

func TestValidate_NegativeIdleTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.IdleTimeoutSeconds = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for negative idle timeout")
	}
}

func TestValidate_MissingSQLitePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Database.SQLite.Path = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing sqlite path")
	}
	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "sqlite") {
		t.Errorf("Expected error about sqlite path, got: %v", err)
	}
}

func TestValidate_BadPassivePortRange(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.FTP.PassivePortRange = "50100-50000"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for inverted passive port range")
	}
}

func TestValidate_BadPublicIP(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.FTP.PublicIP = "not-an-ip"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid public ip")
	}
}

func TestValidate_TracingEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Tracing.Enabled = true
	cfg.Telemetry.Tracing.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for tracing enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "endpoint") {
		t.Errorf("Expected error about endpoint, got: %v", err)
	}
}

func TestValidate_TracingSampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Tracing.Enabled = true
	cfg.Telemetry.Tracing.Endpoint = "localhost:4317"
	cfg.Telemetry.Tracing.SampleRate = 1.5 // Out of range (should be 0.0-1.0)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	// Validation accepts both uppercase and lowercase log levels
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		err := Validate(cfg)
		if err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}

		// Validation should NOT normalize - level should remain as-is
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}
}

func TestValidate_BadOpsAddress(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Ops.ListenAddress = "no-port-here"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for ops address without port")
	}
}
