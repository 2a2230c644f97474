package main

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"courier/internal/account"
	"courier/internal/commands"
	"courier/internal/config"
	"courier/internal/history"
	"courier/internal/ipc"
	"courier/internal/logging"
	"courier/internal/registry"
	"courier/internal/testsupport"
)

// cliSession is an in-memory account used to drive the CLI against a real
// socket server without a remote service.
type cliSession struct {
	mu         sync.Mutex
	username   string
	identity   bool
	pending    bool
	registered bool
}

func (s *cliSession) Username() string { return s.username }

func (s *cliSession) HasIdentity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *cliSession) CreateIdentity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = true
	return nil
}

func (s *cliSession) IsRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

func (s *cliSession) Register(context.Context, bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = true
	return nil
}

func (s *cliSession) Verify(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code != "123456" {
		return fmt.Errorf("verify account: incorrect code")
	}
	s.pending = false
	s.registered = true
	return nil
}

func (s *cliSession) DeviceLinkURI(context.Context) (*url.URL, error) {
	return nil, fmt.Errorf("linking unsupported in cli tests")
}

func (s *cliSession) FinishDeviceLink(context.Context, string) error {
	return account.ErrNoLinkInProgress
}

func (s *cliSession) AddDeviceLink(context.Context, account.DeviceLink) error {
	if !s.IsRegistered() {
		return account.ErrNotRegistered
	}
	return nil
}

func (s *cliSession) Send(context.Context, string, []string, string) (int64, error) {
	if !s.IsRegistered() {
		return 0, account.ErrNotRegistered
	}
	return 1700000000123, nil
}

func (s *cliSession) Exists() bool { return s.IsRegistered() }

func (s *cliSession) Init() error { return nil }

func (s *cliSession) Summary() account.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := account.StateNoIdentity
	switch {
	case s.registered:
		state = account.StateVerified
	case s.pending:
		state = account.StateRegistrationPending
	case s.identity:
		state = account.StateIdentityCreated
	}
	summary := account.Summary{
		Username:   s.username,
		Filename:   "/accounts/" + s.username,
		Registered: s.registered,
		HasKeys:    s.identity,
		State:      state,
	}
	if s.registered {
		device := 1
		summary.DeviceID = &device
	}
	return summary
}

type cliTestEnv struct {
	cfg        *config.Config
	server     *ipc.Server
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	homeDir := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv(config.ServiceURLEnv, "")
	cfg := testsupport.NewConfig(t, testsupport.WithEnsuredDirectories())

	configPath := filepath.Join(homeDir, ".config", "courier", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	reg, err := registry.New(cfg.AccountsDir(), func(_ string, username string) (account.Session, error) {
		return &cliSession{username: username}, nil
	}, logger)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	dispatcher, err := commands.NewDispatcher(commands.Options{
		Registry:    reg,
		LinkSession: func() (account.Session, error) { return &cliSession{}, nil },
		History:     store,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("commands.NewDispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, dispatcher, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI socket test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		store.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		server:     srv,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nstate_dir = %q\nlog_dir = %q\nsocket_path = %q\n\n[service]\nurl = %q\n\n[link]\ndevice_name = %q\ntimeout_seconds = %d\n",
		cfg.Paths.DataDir,
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.SocketPath,
		cfg.Service.URL,
		cfg.Link.DeviceName,
		cfg.Link.TimeoutSeconds,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
