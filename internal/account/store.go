package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

const (
	accountFileVersion = 1
	lockSuffix         = ".lock"
)

// accountFile is the on-disk representation of one account.
type accountFile struct {
	Version             int    `json:"version"`
	Username            string `json:"username"`
	DeviceID            int    `json:"deviceId"`
	Password            string `json:"password"`
	RegistrationID      int    `json:"registrationId"`
	IdentityKeyPublic   []byte `json:"identityKeyPublic"`
	IdentityKeyPrivate  []byte `json:"identityKeyPrivate"`
	PendingVerification bool   `json:"pendingVerification"`
	Registered          bool   `json:"registered"`
}

// fileStore keeps one JSON file per account in dir.
type fileStore struct {
	dir string
}

func (s fileStore) path(username string) string {
	return filepath.Join(s.dir, username)
}

func (s fileStore) exists(username string) bool {
	if username == "" {
		return false
	}
	info, err := os.Stat(s.path(username))
	return err == nil && info.Mode().IsRegular()
}

func (s fileStore) load(username string) (*accountFile, error) {
	path := s.path(username)
	lock := flock.New(path + lockSuffix)
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock account file %s: %w", path, err)
	}
	defer lock.Unlock() //nolint:errcheck

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read account file: %w", err)
	}
	var state accountFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode account file %s: %w", path, err)
	}
	if state.Username != username {
		return nil, fmt.Errorf("account file %s belongs to %q", path, state.Username)
	}
	return &state, nil
}

// lock takes the exclusive lock guarding username's file. Other savers and
// loaders wait until it is released.
func (s fileStore) lock(username string) (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create account directory: %w", err)
	}
	path := s.path(username)
	lock := flock.New(path + lockSuffix)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock account file %s: %w", path, err)
	}
	return lock, nil
}

// save writes state atomically. With create set, an existing file is a
// *UserExistsError instead of being replaced.
func (s fileStore) save(state *accountFile, create bool) error {
	lock, err := s.lock(state.Username)
	if err != nil {
		return err
	}
	defer lock.Unlock() //nolint:errcheck
	return s.saveLocked(state, create)
}

// saveLocked is save for callers already holding the account lock.
func (s fileStore) saveLocked(state *accountFile, create bool) error {
	path := s.path(state.Username)
	if create && s.exists(state.Username) {
		return &UserExistsError{Username: state.Username, FileName: path}
	}

	state.Version = accountFileVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account file: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+state.Username+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp account file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write account file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync account file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close account file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace account file: %w", err)
	}
	return nil
}

// ListStored returns the usernames that have an account file in dir.
func ListStored(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, lockSuffix) {
			continue
		}
		if _, err := ValidateUsername(name); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
