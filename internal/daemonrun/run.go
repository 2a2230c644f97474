package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"courier/internal/account"
	"courier/internal/commands"
	"courier/internal/config"
	"courier/internal/daemon"
	"courier/internal/history"
	"courier/internal/ipc"
	"courier/internal/logging"
	"courier/internal/registry"
	"courier/internal/relay"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// Run starts the courier daemon and serves the control socket until the
// context is canceled or SIGINT/SIGTERM arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	if held, err := daemon.LockHeld(cfg.LockPath()); err != nil {
		return err
	} else if held {
		return daemon.ErrAlreadyRunning
	}

	logPath := cfg.DaemonLogPath()
	if err := rotateLog(logPath, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to rotate daemon log: %v\n", err)
	}
	logCfg := *cfg
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		logCfg.Logging.Level = level
	}
	logger, closeLog, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "courier-*.log", logPath)
	logConfigSnapshot(logger, cfg)

	service, err := relay.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("create service client: %w", err)
	}
	accountOpts := account.Options{
		Dir:         cfg.AccountsDir(),
		Service:     service,
		LinkTimeout: cfg.LinkTimeout(),
		Logger:      logger,
	}
	reg, err := registry.New(cfg.AccountsDir(), registry.ManagerFactory(accountOpts), logger)
	if err != nil {
		return fmt.Errorf("create account registry: %w", err)
	}

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logging.ErrorWithContext(logger, "open history store", "history_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the state directory"),
		)
		return err
	}

	d, err := daemon.New(cfg, reg, store, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	runCtx, err := d.Start(signalCtx)
	if err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return err
		}
		return fmt.Errorf("start daemon: %w", err)
	}

	// Only the lock holder owns the pid file.
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	dispatcher, err := commands.NewDispatcher(commands.Options{
		Registry: reg,
		LinkSession: func() (account.Session, error) {
			return account.NewManager("", accountOpts)
		},
		DeviceName: cfg.Link.DeviceName,
		History:    store,
		Status: func(ctx context.Context) any {
			return d.Status(ctx)
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	ipcServer, err := ipc.NewServer(runCtx, cfg.Paths.SocketPath, dispatcher, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("courier daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("socket", cfg.Paths.SocketPath),
	)

	<-runCtx.Done()
	logger.Info("courier daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// rotateLog moves a non-empty log aside as courier-<timestamp>.log so each
// daemon run starts a fresh file and retention can prune old runs.
func rotateLog(path string, now time.Time) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	stamp := now.UTC().Format("20060102T150405.000Z")
	rotated := filepath.Join(filepath.Dir(path), fmt.Sprintf("courier-%s.log", stamp))
	return os.Rename(path, rotated)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Group("paths",
			logging.String("accounts", cfg.AccountsDir()),
			logging.String("socket", cfg.Paths.SocketPath),
			logging.String("history", cfg.HistoryPath()),
		),
		logging.Group("service",
			logging.String("url", cfg.Service.URL),
			logging.Duration("request_timeout", cfg.RequestTimeout()),
		),
		logging.Group("link",
			logging.String("device_name", cfg.Link.DeviceName),
			logging.Duration("timeout", cfg.LinkTimeout()),
		),
	)
}
