package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/cmd/wharfd/cmdutil"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/ops"
	"github.com/wharfd/wharfd/internal/telemetry"
	sftpadapter "github.com/wharfd/wharfd/pkg/adapter/sftp"
	"github.com/wharfd/wharfd/pkg/config"
	"github.com/wharfd/wharfd/pkg/models"
	"github.com/wharfd/wharfd/pkg/store"
	"github.com/wharfd/wharfd/pkg/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the wharfd server",
	Long: `Start the wharfd server with the specified configuration.

The server runs in the foreground until it receives SIGINT or SIGTERM,
then drains active sessions within the configured shutdown deadline.

Use --config to specify a custom configuration file, or it will search
./wharfd.yaml, $XDG_CONFIG_HOME/wharfd/wharfd.yaml and /etc/wharfd/wharfd.yaml.

Examples:
  # Start with the default config locations
  wharfd start

  # Start with a custom config file
  wharfd start --config /etc/wharfd/wharfd.yaml

  # Start with environment variable overrides
  WHARFD_LOGGING_LEVEL=DEBUG wharfd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Tracing.Enabled,
		ServiceName:    "wharfd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Tracing.Endpoint,
		Insecure:       cfg.Telemetry.Tracing.Insecure,
		SampleRate:     cfg.Telemetry.Tracing.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "wharfd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("wharfd - Multi-protocol file transfer server")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Tracing.Endpoint, "sample_rate", cfg.Telemetry.Tracing.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	// The database, host keys, FTP root, and log file all live beneath
	// the data directory.
	for _, dir := range cfg.Server.MountPoints() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	cmdutil.ResolveDatabasePath(cfg)
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	logger.Info("Store opened", "type", cfg.Database.Type)

	// Seed first-run defaults on an empty database
	if err := st.Bootstrap(ctx, cfg.Server.FTPRootDir()); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	warnWeakAdminPassword(ctx, st)

	hostKeys, err := sftpadapter.LoadOrGenerateHostKeys(cfg.Server.ConfigDir())
	if err != nil {
		return fmt.Errorf("failed to load host keys: %w", err)
	}

	metrics := supervisor.NewMetrics(prometheus.DefaultRegisterer)
	sup := supervisor.New(st, supervisor.Config{
		HostKeys:        hostKeys,
		IdleTimeout:     cfg.Server.IdleTimeout(),
		MaxConnections:  cfg.Server.MaxConnections,
		ShutdownTimeout: cfg.Server.ShutdownDeadline(),
		FTPPublicIP:     cfg.FTP.PublicIP,
		FTPPassivePorts: cfg.FTP.PassivePortRange,
	}, metrics)

	if err := sup.StartAllEnabled(ctx); err != nil {
		return fmt.Errorf("failed to start listeners: %w", err)
	}

	// Ops endpoint (optional): /healthz, /readyz, /metrics
	opsDone := make(chan error, 1)
	opsRunning := false
	if cfg.Ops.Enabled {
		opsServer := ops.NewServer(ops.Config{ListenAddress: cfg.Ops.ListenAddress}, st, sup, nil)
		opsRunning = true
		go func() { opsDone <- opsServer.Start(ctx) }()
	}

	// Activity retention: purge at startup, then daily
	go purgeLoop(ctx, st, cfg.Activity.RetentionDays)

	// Wait for interrupt signal or ops endpoint failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	var fatalErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")

	case err := <-opsDone:
		// The operator asked for the ops endpoint; if it cannot serve,
		// stop instead of running half-configured.
		signal.Stop(sigChan)
		opsRunning = false
		if err != nil {
			logger.Error("ops endpoint failed", "error", err)
			fatalErr = err
		}
	}

	// Drain order: listeners first so sessions see the close, then the
	// ops endpoint, then the deferred store close flushes the activity
	// queue. The extra headroom covers serve-loop exits after the drain
	// deadline has passed.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownDeadline()+10*time.Second)
	defer shutdownCancel()

	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Error("listener shutdown error", "error", err)
		if fatalErr == nil {
			fatalErr = err
		}
	}

	cancel()
	if opsRunning {
		if err := <-opsDone; err != nil {
			logger.Error("ops endpoint shutdown error", "error", err)
		}
	}

	if fatalErr != nil {
		return fatalErr
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// warnWeakAdminPassword raises a WEAK_DEFAULT_CREDENTIAL activity on every
// startup while the bootstrap admin account still carries its well-known
// default password.
func warnWeakAdminPassword(ctx context.Context, st store.Store) {
	weak, err := st.HasWeakAdminPassword(ctx)
	if err != nil {
		logger.Error("weak password check failed", "error", err)
		return
	}
	if !weak {
		return
	}

	logger.Warn("admin account still uses the default password",
		"username", store.BootstrapAdminUsername,
		"hint", "wharfd user reset-password "+store.BootstrapAdminUsername)
	st.LogActivity(&models.ActivityRecord{
		Username: store.BootstrapAdminUsername,
		Action:   models.ActionWeakCredential,
		Success:  true,
	})
}

// purgeLoop removes activity records older than the retention window at
// startup and then once a day until the context is cancelled. Each sweep
// resolves the window from the activity.retention_days setting, falling
// back to the config value when no setting row exists; a window of zero
// skips the sweep.
func purgeLoop(ctx context.Context, st store.Store, defaultRetentionDays int) {
	purge := func() {
		retentionDays := resolveRetentionDays(ctx, st, defaultRetentionDays)
		if retentionDays <= 0 {
			return
		}

		ctx, span := telemetry.StartSpan(ctx, telemetry.SpanActivityPurge)
		defer span.End()

		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		n, err := st.PurgeActivitiesOlderThan(ctx, cutoff)
		if err != nil {
			telemetry.RecordError(ctx, err)
			logger.Error("activity purge failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("purged expired activity records", "count", n, "retention_days", retentionDays)
		}
	}

	purge()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// resolveRetentionDays reads the activity.retention_days setting. A missing
// or malformed value falls back to the configured default.
func resolveRetentionDays(ctx context.Context, st store.Store, fallback int) int {
	value, err := st.GetSetting(ctx, models.SettingActivityRetentionDays)
	if err != nil {
		logger.Error("retention setting lookup failed", "error", err)
		return fallback
	}
	if value == "" {
		return fallback
	}

	days, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("ignoring malformed retention setting", "value", value)
		return fallback
	}
	return days
}
