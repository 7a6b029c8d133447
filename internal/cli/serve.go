package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ai-educate/livetutor/internal/config"
	"github.com/ai-educate/livetutor/internal/logger"
	"github.com/ai-educate/livetutor/internal/observability"
	"github.com/ai-educate/livetutor/internal/tracing"
	"github.com/spf13/cobra"
)

const pidFileName = "livetutor.pid"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tutoring gateway",
	Long: `Run the tutoring gateway in the foreground until SIGINT or SIGTERM.
On shutdown live sessions are ended and drained before the process exits.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := getPIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("livetutor is already running (PID file: %s)", pidFile)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer observability.GetAuditLogger().Close()
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, version, cfg.Tracing.SampleRatio); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	a, err := newApp(cfg, zl)
	if err != nil {
		return err
	}
	if err := a.start(); err != nil {
		return err
	}

	if err := writePIDFile(pidFile); err != nil {
		zl.Warn().Err(err).Str("path", pidFile).Msg("Failed to write PID file")
	}
	defer os.Remove(pidFile)

	// Only the log level applies without a restart.
	if err := loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			zl.Error().Err(err).Msg("Failed to reload config")
			return
		}
		level := next.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		if err := logger.ApplyLevel(level); err != nil {
			zl.Error().Err(err).Msg("Ignoring invalid log level")
			return
		}
		observability.RecordConfigAudit(context.Background(), "reload", map[string]interface{}{
			"log_level": level,
		})
		zl.Info().Str("level", level).Msg("Log level reloaded")
	}); err != nil {
		zl.Debug().Err(err).Msg("Config hot reload disabled")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	zl.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout+5*time.Second)
	defer cancel()
	return a.stop(shutdownCtx)
}

func getPIDFilePath(dataDir string) string {
	if dataDir == "" {
		return filepath.Join(os.TempDir(), pidFileName)
	}
	return filepath.Join(dataDir, pidFileName)
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0.
	return process.Signal(syscall.Signal(0)) == nil
}
