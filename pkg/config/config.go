package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wharfd/wharfd/pkg/store"
)

// Config represents the wharfd configuration.
//
// This structure captures static configuration aspects of the wharfd server:
//   - Server settings (data directory, idle timeout, shutdown deadline)
//   - Database connection (control plane persistence)
//   - FTP passive mode settings
//   - Activity log retention
//   - Logging configuration
//   - Ops endpoint (health and metrics)
//   - Telemetry (tracing and profiling)
//
// Dynamic configuration (users, listeners, subscriptions, permissions,
// virtual paths) is managed through the CLI and stored in the database.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (WHARFD_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Server contains core server settings
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Database configures the control plane database (SQLite or PostgreSQL).
	// This is the persistent store for users, listeners, and grants.
	Database store.Config `mapstructure:"database" yaml:"database" json:"database"`

	// FTP contains FTP-specific transport settings shared by all FTP listeners
	FTP FTPConfig `mapstructure:"ftp" yaml:"ftp" json:"ftp"`

	// Activity controls activity log retention
	Activity ActivityConfig `mapstructure:"activity" yaml:"activity" json:"activity"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`

	// Ops contains the operational HTTP endpoint configuration
	Ops OpsConfig `mapstructure:"ops" yaml:"ops" json:"ops"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
}

// ServerConfig contains core server settings.
type ServerConfig struct {
	// DataDir is the root directory for server state.
	// The server creates config/, data/ftp-root/ and logs/ beneath it.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir" validate:"required"`

	// IdleTimeoutSeconds is how long a session may sit idle before it is
	// force-closed. 0 disables the idle timer.
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds" json:"idle_timeout_seconds" validate:"gte=0"`

	// ShutdownDeadlineSeconds is how long graceful shutdown waits for
	// active sessions to drain before force-closing them.
	ShutdownDeadlineSeconds int `mapstructure:"shutdown_deadline_seconds" yaml:"shutdown_deadline_seconds" json:"shutdown_deadline_seconds" validate:"gte=0"`

	// MaxConnections caps concurrent connections per listener.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" json:"max_connections" validate:"gte=0"`
}

// IdleTimeout returns the idle timeout as a duration. Zero disables it.
func (c *ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// ShutdownDeadline returns the graceful shutdown deadline as a duration.
func (c *ServerConfig) ShutdownDeadline() time.Duration {
	return time.Duration(c.ShutdownDeadlineSeconds) * time.Second
}

// ConfigDir returns the directory holding the database and host keys.
func (c *ServerConfig) ConfigDir() string {
	return filepath.Join(c.DataDir, "config")
}

// FTPRootDir returns the default virtual path target created at bootstrap.
func (c *ServerConfig) FTPRootDir() string {
	return filepath.Join(c.DataDir, "data", "ftp-root")
}

// LogsDir returns the directory for file log output.
func (c *ServerConfig) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// MountPoints returns the directories the server creates at startup.
func (c *ServerConfig) MountPoints() []string {
	return []string{c.ConfigDir(), c.FTPRootDir(), c.LogsDir()}
}

// FTPConfig contains FTP transport settings shared by all FTP listeners.
type FTPConfig struct {
	// PassivePortRange restricts passive data connections to a port range,
	// formatted as "min-max" (e.g. "50000-50100"). Empty lets the kernel pick.
	PassivePortRange string `mapstructure:"passive_port_range" yaml:"passive_port_range" json:"passive_port_range,omitempty"`

	// PublicIP is the address advertised to clients in PASV responses.
	// Set this when the server sits behind NAT. Empty uses the local address.
	PublicIP string `mapstructure:"public_ip" yaml:"public_ip" json:"public_ip,omitempty" validate:"omitempty,ip"`
}

// ParsePassivePortRange parses a "min-max" passive port range string.
func ParsePassivePortRange(s string) (low, high int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("passive port range must be \"min-max\", got %q", s)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &low); err != nil {
		return 0, 0, fmt.Errorf("invalid passive port range %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &high); err != nil {
		return 0, 0, fmt.Errorf("invalid passive port range %q: %w", s, err)
	}
	if low < 1 || high > 65535 || low > high {
		return 0, 0, fmt.Errorf("passive port range %q out of order or out of bounds", s)
	}
	return low, high, nil
}

// ActivityConfig controls activity log retention.
type ActivityConfig struct {
	// RetentionDays is how many days of activity records to keep.
	// Records older than the window are purged at startup and daily.
	// 0 keeps records forever.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days" json:"retention_days" validate:"gte=0"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" json:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" json:"output" validate:"required"`
}

// OpsConfig configures the operational HTTP endpoint.
// It serves /healthz, /readyz and /metrics (Prometheus).
// When Enabled is false the endpoint is not started.
type OpsConfig struct {
	// Enabled controls whether the ops endpoint is started
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// ListenAddress is the host:port the ops endpoint binds to.
	// Default: "127.0.0.1:9620"
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" json:"listen_address" validate:"omitempty,hostname_port"`
}

// TelemetryConfig controls OpenTelemetry tracing and Pyroscope profiling.
type TelemetryConfig struct {
	// Tracing contains OTLP trace export configuration
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling" json:"profiling"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TracingConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure" json:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate" validate:"omitempty,gte=0,lte=1"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope
// server for flame graph visualization and performance analysis.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types" json:"profile_types"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (WHARFD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string searches default locations)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if an explicitly requested config file exists and provides
// user-friendly instructions if not. A missing file at the default
// locations is fine: the built-in defaults are used.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  wharfd config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func Save(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config files may contain database credentials, keep them private.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the WHARFD_ prefix and underscores.
	// Example: WHARFD_LOGGING_LEVEL=DEBUG, WHARFD_SERVER_DATA_DIR=/srv/wharfd
	v.SetEnvPrefix("WHARFD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Search: ./wharfd.yaml, $XDG_CONFIG_HOME/wharfd/wharfd.yaml, /etc/wharfd/wharfd.yaml
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
		v.AddConfigPath("/etc/wharfd")
		v.SetConfigName("wharfd")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable, defaults are used
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes time.Duration parsing and comma-separated string slices.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "wharfd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "wharfd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "wharfd.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}
