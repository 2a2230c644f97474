package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"courier/internal/config"
	"courier/internal/logging"
)

func TestConsoleLoggerWritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer closeFn()

	logging.NewComponentLogger(logger, "ipc").Info("connection opened",
		logging.String(logging.FieldConnectionID, "abc"),
		logging.String("note", "two words"),
	)
	line := buf.String()
	if !strings.Contains(line, "INFO ipc: connection opened") {
		t.Fatalf("expected header with component, got %q", line)
	}
	if !strings.Contains(line, "connection_id=abc") {
		t.Fatalf("expected connection id field, got %q", line)
	}
	if !strings.Contains(line, `note="two words"`) {
		t.Fatalf("expected quoted value, got %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be rendered in the header only, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestConsoleLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Format: "console", Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info record should be filtered, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "WARN shown") {
		t.Fatalf("expected warn record, got %q", buf.String())
	}
}

func TestLoggerTeesJSONIntoFile(t *testing.T) {
	var buf bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "logs", "courier.log")
	logger, closeFn, err := logging.New(logging.Options{Format: "console", Writer: &buf, FilePath: logPath})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("decode failed", logging.String(logging.FieldRawLine, "not json"))
	if err := closeFn(); err != nil {
		t.Fatalf("close log file: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log file is not json: %v (%q)", err, data)
	}
	if record["msg"] != "decode failed" || record[logging.FieldRawLine] != "not json" {
		t.Fatalf("unexpected json record %v", record)
	}
	if record["level"] != "info" {
		t.Fatalf("expected lower-case level, got %v", record["level"])
	}
	if !strings.Contains(buf.String(), "decode failed") {
		t.Fatalf("expected console copy, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigCreatesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	logger, closeFn, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	defer closeFn()
	logger.Debug("debug message")
	if _, err := os.Stat(cfg.DaemonLogPath()); err != nil {
		t.Fatalf("expected daemon log file: %v", err)
	}
}

func TestWithContextAddsConnectionAndRequest(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := logging.WithConnectionID(context.Background(), "conn-1")
	ctx = logging.WithRequest(ctx, "r1", "register")
	logging.WithContext(ctx, logger).Info("handled")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record[logging.FieldConnectionID] != "conn-1" || record[logging.FieldRequestID] != "r1" || record[logging.FieldRequestType] != "register" {
		t.Fatalf("missing context fields: %v", record)
	}
	if id, ok := logging.RequestIDFromContext(ctx); !ok || id != "r1" {
		t.Fatalf("unexpected request id %q", id)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "unknown command", "unsupported_command")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := record[key]; !ok {
			t.Fatalf("expected %s in %v", key, record)
		}
	}
}

func TestCleanupOldLogsKeepsActiveFile(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "courier-old.log")
	active := filepath.Join(dir, "courier.log")
	for _, path := range []string{old, active} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		past := time.Now().AddDate(0, 0, -10)
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 5, dir, "courier*.log", active)
	if removed != 1 {
		t.Fatalf("expected one file removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	if _, err := os.Stat(active); err != nil {
		t.Fatalf("expected active log kept: %v", err)
	}
}

func TestConsoleLoggerFlattensGroups(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("configuration snapshot",
		logging.Group("paths",
			logging.String("socket", "/run/courier.sock"),
			logging.Group("nested", logging.Int("depth", 2)),
		),
	)
	line := buf.String()
	for _, want := range []string{"paths.socket=/run/courier.sock", "paths.nested.depth=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}
