// Package registry holds the daemon's live account sessions.
//
// Every connection handler shares one Registry. GetOrCreate is atomic per
// identifier: concurrent first access from several connections constructs a
// single session and every caller receives that instance.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"courier/internal/account"
	"courier/internal/logging"
)

// ErrAccountNotFound is returned by Get for identifiers without a live session.
var ErrAccountNotFound = errors.New("account not found")

// Factory constructs the session for a normalized identifier. dir is the
// accounts directory the registry was built with.
type Factory func(dir, username string) (account.Session, error)

// Registry maps account identifiers to sessions.
type Registry struct {
	dir     string
	factory Factory
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]account.Session
	group    singleflight.Group
}

// New builds a registry whose sessions live under dir.
func New(dir string, factory Factory, logger *slog.Logger) (*Registry, error) {
	if dir == "" {
		return nil, errors.New("registry requires an accounts directory")
	}
	if factory == nil {
		return nil, errors.New("registry requires a session factory")
	}
	return &Registry{
		dir:      dir,
		factory:  factory,
		logger:   logging.NewComponentLogger(logger, "registry"),
		sessions: make(map[string]account.Session),
	}, nil
}

// Dir returns the accounts directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Get returns the live session for username without creating one.
func (r *Registry) Get(username string) (account.Session, error) {
	key, err := account.ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	if session, ok := r.lookup(key); ok {
		return session, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
}

// GetOrCreate returns the session for username, constructing it on first use.
// Persisted state is loaded by the factory. A failed construction is not
// cached, so a later call retries.
func (r *Registry) GetOrCreate(username string) (account.Session, error) {
	key, err := account.ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	if session, ok := r.lookup(key); ok {
		return session, nil
	}
	value, err, _ := r.group.Do(key, func() (any, error) {
		// re-check: a previous flight may have inserted it after our lookup
		if session, ok := r.lookup(key); ok {
			return session, nil
		}
		session, err := r.factory(r.dir, key)
		if err != nil {
			return nil, fmt.Errorf("open account %s: %w", key, err)
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.sessions[key]; ok {
			return existing, nil
		}
		r.sessions[key] = session
		r.logger.Debug("account session created",
			logging.String(logging.FieldAccount, key),
			logging.String(logging.FieldEventType, "session_created"),
		)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(account.Session), nil
}

// List returns a snapshot of all sessions ordered by identifier.
func (r *Registry) List() []account.Session {
	r.mu.RLock()
	keys := make([]string, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]account.Session, 0, len(keys))
	for _, key := range keys {
		out = append(out, r.sessions[key])
	}
	r.mu.RUnlock()
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Preload opens a session for every account stored on disk. Accounts that fail
// to load are logged and skipped.
func (r *Registry) Preload() (int, error) {
	names, err := account.ListStored(r.dir)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, name := range names {
		if _, err := r.GetOrCreate(name); err != nil {
			logging.WarnWithContext(r.logger, "stored account failed to load", "account_load_failed",
				logging.String(logging.FieldAccount, name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect or remove the account file"),
				logging.String(logging.FieldImpact, "account is unavailable until the daemon restarts"),
			)
			continue
		}
		loaded++
	}
	return loaded, nil
}

func (r *Registry) lookup(key string) (account.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[key]
	return session, ok
}

// ManagerFactory returns a Factory that builds account.Managers with opts and
// loads persisted state when the account file exists.
func ManagerFactory(opts account.Options) Factory {
	return func(dir, username string) (account.Session, error) {
		managerOpts := opts
		managerOpts.Dir = dir
		manager, err := account.NewManager(username, managerOpts)
		if err != nil {
			return nil, err
		}
		if manager.Exists() {
			if err := manager.Init(); err != nil {
				return nil, err
			}
		}
		return manager, nil
	}
}
