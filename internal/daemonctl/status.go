package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"courier/internal/account"
	"courier/internal/config"
	"courier/internal/daemon"
	"courier/internal/history"
	"courier/internal/ipc"
)

// StatusLine is one labelled check shown by `courier status`.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Snapshot combines live daemon status with offline fallbacks.
type Snapshot struct {
	Running        bool          `json:"running"`
	Daemon         daemon.Status `json:"daemon"`
	StoredAccounts int           `json:"storedAccounts"`
	Checks         []StatusLine  `json:"checks"`
}

// BuildStatusSnapshot queries the daemon when reachable and otherwise reads
// the account directory and history database directly.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &Snapshot{}

	if client, err := ipc.Dial(socketPath); err == nil {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status, statusErr := QueryStatus(queryCtx, client)
		cancel()
		_ = client.Close()
		if statusErr == nil && status != nil {
			snapshot.Daemon = *status
			snapshot.Running = status.Running
		}
	}

	stored, err := account.ListStored(cfg.AccountsDir())
	if err == nil {
		snapshot.StoredAccounts = len(stored)
	}

	if !snapshot.Running {
		snapshot.Daemon.SocketPath = socketPath
		snapshot.Daemon.LockPath = cfg.LockPath()
		snapshot.Daemon.LogPath = cfg.DaemonLogPath()
		snapshot.Daemon.History = offlineHistory(ctx, cfg.HistoryPath())
		if _, statErr := os.Stat(cfg.HistoryPath()); statErr == nil {
			snapshot.Daemon.HistoryPath = cfg.HistoryPath()
		}
	}

	snapshot.Checks = BuildSystemChecks(cfg, snapshot)
	return snapshot, nil
}

func offlineHistory(ctx context.Context, path string) daemon.HistoryStatus {
	if _, err := os.Stat(path); err != nil {
		return daemon.HistoryStatus{}
	}
	store, err := history.Open(path)
	if err != nil {
		return daemon.HistoryStatus{Error: err.Error()}
	}
	defer store.Close()
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	stats, err := store.Stats(queryCtx)
	if err != nil {
		return daemon.HistoryStatus{Error: err.Error()}
	}
	return daemon.HistoryStatus{Total: stats.Total, Failed: stats.Failed, LastEvent: stats.LastEvent}
}

// BuildSystemChecks resolves status lines that combine runtime state and config checks.
func BuildSystemChecks(cfg *config.Config, snapshot *Snapshot) []StatusLine {
	lines := make([]StatusLine, 0, 4)
	if snapshot.Running {
		detail := fmt.Sprintf("Running (pid %d, up %s)", snapshot.Daemon.PID, snapshot.Daemon.Uptime)
		lines = append(lines, StatusLine{Label: "Courier", Severity: "ok", Detail: detail})
	} else {
		lines = append(lines, StatusLine{Label: "Courier", Severity: "warn", Detail: "Not running (run `courier start`)"})
	}

	lines = append(lines, StatusLine{Label: "Service", Severity: "info", Detail: cfg.Service.URL})

	switch info, err := os.Stat(cfg.AccountsDir()); {
	case errors.Is(err, fs.ErrNotExist):
		lines = append(lines, StatusLine{Label: "Accounts", Severity: "info", Detail: "No account directory yet"})
	case err != nil:
		lines = append(lines, StatusLine{Label: "Accounts", Severity: "error", Detail: err.Error()})
	case info.Mode().Perm()&0o077 != 0:
		lines = append(lines, StatusLine{Label: "Accounts", Severity: "warn",
			Detail: fmt.Sprintf("%d stored; directory mode %04o is readable by others", snapshot.StoredAccounts, info.Mode().Perm())})
	default:
		detail := fmt.Sprintf("%d stored", snapshot.StoredAccounts)
		if snapshot.Running {
			detail = fmt.Sprintf("%d stored, %d loaded", snapshot.StoredAccounts, snapshot.Daemon.Accounts)
		}
		lines = append(lines, StatusLine{Label: "Accounts", Severity: "ok", Detail: detail})
	}

	historyStatus := snapshot.Daemon.History
	switch {
	case historyStatus.Error != "":
		lines = append(lines, StatusLine{Label: "History", Severity: "error", Detail: historyStatus.Error})
	case historyStatus.Total == 0:
		lines = append(lines, StatusLine{Label: "History", Severity: "info", Detail: "No recorded requests"})
	default:
		lines = append(lines, StatusLine{Label: "History", Severity: "ok",
			Detail: fmt.Sprintf("%d recorded, %d failed", historyStatus.Total, historyStatus.Failed)})
	}
	return lines
}
