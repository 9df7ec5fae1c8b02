package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConnectionLogger_Disabled(t *testing.T) {
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))

	logger, closer, path, err := NewConnectionLogger(base, "", "vhost", "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	if logger != base {
		t.Error("expected base logger when connLogDir is empty")
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestNewConnectionLogger_CreatesFileAndLogs(t *testing.T) {
	dir := t.TempDir()
	var baseBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger, closer, logPath, err := NewConnectionLogger(base, dir, "example.com", "conn-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vhostDir := filepath.Join(dir, "example.com")
	if _, err := os.Stat(vhostDir); os.IsNotExist(err) {
		t.Fatalf("vhost dir not created: %s", vhostDir)
	}

	expectedPath := filepath.Join(vhostDir, "conn-abc.log")
	if logPath != expectedPath {
		t.Errorf("expected path %q, got %q", expectedPath, logPath)
	}

	logger.Info("test message", "key", "value")
	closer.Close()

	if !strings.Contains(baseBuf.String(), "test message") {
		t.Errorf("log message not found in base handler output: %s", baseBuf.String())
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading connection log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "test message") {
		t.Errorf("log message not found in connection file: %s", content)
	}
	if !strings.Contains(content, `"key":"value"`) {
		t.Errorf("structured key not found in connection file: %s", content)
	}
}

func TestNewConnectionLogger_DebugInFileInfoInBase(t *testing.T) {
	dir := t.TempDir()

	var baseBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger, closer, logPath, err := NewConnectionLogger(base, dir, "vhost", "conn-debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Debug("debug only message")
	logger.Info("info for both")

	closer.Close()

	if strings.Contains(baseBuf.String(), "debug only message") {
		t.Error("DEBUG message should not appear in base handler with INFO level")
	}
	if !strings.Contains(baseBuf.String(), "info for both") {
		t.Error("INFO message missing from base handler")
	}

	data, _ := os.ReadFile(logPath)
	content := string(data)
	if !strings.Contains(content, "debug only message") {
		t.Errorf("DEBUG message missing from connection file: %s", content)
	}
	if !strings.Contains(content, "info for both") {
		t.Errorf("INFO message missing from connection file: %s", content)
	}
}

func TestRemoveConnectionLog(t *testing.T) {
	dir := t.TempDir()
	vhostDir := filepath.Join(dir, "vhost")
	os.MkdirAll(vhostDir, 0755)

	logPath := filepath.Join(vhostDir, "conn-to-remove.log")
	os.WriteFile(logPath, []byte("test"), 0644)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Fatal("setup failed: log file not created")
	}

	RemoveConnectionLog(dir, "vhost", "conn-to-remove")

	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("connection log file should have been removed")
	}
}

func TestRemoveConnectionLog_NoOpWhenEmpty(t *testing.T) {
	RemoveConnectionLog("", "vhost", "conn")
}

func TestRemoveConnectionLog_NoOpWhenFileMissing(t *testing.T) {
	RemoveConnectionLog(t.TempDir(), "vhost", "nonexistent-conn")
}

func TestNewConnectionLogger_WithAttrs(t *testing.T) {
	dir := t.TempDir()
	var baseBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger, closer, logPath, err := NewConnectionLogger(base, dir, "vhost", "conn-attrs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	enriched := logger.With("conn", "conn-attrs", "proto", "fcgi")
	enriched.Info("enriched message")

	closer.Close()

	if !strings.Contains(baseBuf.String(), "conn-attrs") {
		t.Error("conn attr missing from base handler")
	}

	data, _ := os.ReadFile(logPath)
	content := string(data)
	if !strings.Contains(content, "conn-attrs") {
		t.Errorf("conn attr missing from connection file: %s", content)
	}
	if !strings.Contains(content, "fcgi") {
		t.Errorf("proto attr missing from connection file: %s", content)
	}
}
