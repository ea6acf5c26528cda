package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"camrelay/internal/config"
	"camrelay/internal/daemon"
	"camrelay/internal/ipc"
	"camrelay/internal/logging"
	"camrelay/internal/preflight"
	"camrelay/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

const (
	logHubCapacity = 4096
	logPattern     = "camrelay-*.log"
	currentLogName = "camrelay.log"
	pidFileName    = "camrelay.pid"
)

// PIDPath returns the pid file the daemon writes into logDir.
func PIDPath(logDir string) string {
	return filepath.Join(logDir, pidFileName)
}

// Run starts the camrelay daemon and blocks until a signal arrives or the
// daemon is stopped over IPC.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	runID := uuid.NewString()
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("camrelay-%s.log", stamp))
	logHub := logging.NewStreamHub(logHubCapacity)

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, logFiles, err := logging.Open(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		Stream:           logHub,
		Attrs:            []logging.Attr{logging.String("run_id", runID)},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logFiles.Close()

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", currentLogName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: logPattern, Exclude: []string{logPath}},
	)
	logPreflight(signalCtx, logger, cfg)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open journal store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, st, logger, daemon.Options{
		LogPath: logPath,
		LogHub:  logHub,
		RunID:   runID,
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running camrelay daemon and the state directory permissions"),
			logging.String(logging.FieldImpact, "no cameras are supervised"),
		)
		return err
	}

	pidPath := PIDPath(cfg.Paths.LogDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	select {
	case <-signalCtx.Done():
		logger.Info("camrelay daemon shutting down", logging.String(logging.FieldEventType, "daemon_signal"))
	case <-d.Done():
		logger.Info("camrelay daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_ipc_stop"))
	}
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	attrs := make([]logging.Attr, 0, len(results)+1)
	attrs = append(attrs, logging.String(logging.FieldEventType, "dependency_snapshot"))
	for _, r := range results {
		attrs = append(attrs, logging.Bool(r.Name, r.Passed))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	for _, failed := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldImpact, "affected cameras or features may not work"),
			logging.String(logging.FieldErrorHint, "run camrelay status for the full dependency report"),
		)
	}
}
