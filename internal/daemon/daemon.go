package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"courier/internal/config"
	"courier/internal/history"
	"courier/internal/logging"
	"courier/internal/registry"
)

// ErrAlreadyRunning is returned by Start when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another courier daemon instance is already running")

// LockHeld reports whether another process holds the daemon lock at path. It
// lets startup bail out before touching files the running daemon owns; Start
// still takes the lock for real.
func LockHeld(path string) (bool, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("check daemon lock: %w", err)
	}
	if !locked {
		return true, nil
	}
	return false, lock.Unlock()
}

// Daemon owns the account registry and history journal for one state directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	history  *history.Store

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	mu        sync.Mutex
	startedAt time.Time
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool          `json:"running"`
	PID         int           `json:"pid"`
	StartedAt   time.Time     `json:"startedAt"`
	Uptime      string        `json:"uptime"`
	Accounts    int           `json:"accounts"`
	SocketPath  string        `json:"socketPath"`
	LockPath    string        `json:"lockPath"`
	HistoryPath string        `json:"historyPath"`
	LogPath     string        `json:"logPath"`
	History     HistoryStatus `json:"history"`
}

// HistoryStatus summarizes the journal.
type HistoryStatus struct {
	Total     int       `json:"total"`
	Failed    int       `json:"failed"`
	LastEvent time.Time `json:"lastEvent"`
	Error     string    `json:"error,omitempty"`
}

// New constructs a daemon with initialized dependencies. history may be nil.
func New(cfg *config.Config, reg *registry.Registry, hist *history.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || reg == nil {
		return nil, errors.New("daemon requires config and account registry")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		registry: reg,
		history:  hist,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, loads stored accounts and prunes old
// history. The returned context is canceled by Stop.
func (d *Daemon) Start(ctx context.Context) (context.Context, error) {
	if d.running.Load() {
		return nil, errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	loaded, err := d.registry.Preload()
	if err != nil {
		_ = d.lock.Unlock()
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	d.pruneHistory(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.startedAt = time.Now()
	d.cancel = cancel
	d.mu.Unlock()
	d.running.Store(true)

	d.logger.Info("courier daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Int("accounts_loaded", loaded),
	)
	return runCtx, nil
}

// Stop cancels in-flight work and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("courier daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.cfg.DaemonLogPath()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	status := Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		Accounts:   d.registry.Len(),
		SocketPath: d.cfg.Paths.SocketPath,
		LockPath:   d.lockPath,
		LogPath:    d.cfg.DaemonLogPath(),
	}
	if status.Running {
		status.StartedAt = startedAt
		status.Uptime = time.Since(startedAt).Truncate(time.Second).String()
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
		stats, err := d.history.Stats(ctx)
		if err != nil {
			status.History.Error = err.Error()
		} else {
			status.History.Total = stats.Total
			status.History.Failed = stats.Failed
			status.History.LastEvent = stats.LastEvent
		}
	}
	return status
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	days := d.cfg.Logging.RetentionDays
	if d.history == nil || days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := d.history.Prune(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(d.logger, "history prune failed", "history_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the history database"),
			logging.String(logging.FieldImpact, "old history entries are kept"),
		)
		return
	}
	if removed > 0 {
		d.logger.Info("history pruned",
			logging.String(logging.FieldEventType, "history_pruned"),
			logging.Int64("removed_count", removed),
		)
	}
}
