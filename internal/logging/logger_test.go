package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "imsd.log")

	logger, err := New(path, "main", false)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("poll failed", zap.Int64("cursor", 42))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (debug filtered): %q", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "poll failed" || entry["session"] != "main" || entry["cursor"] != float64(42) {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts key")
	}
}

func TestCoreTeesBothSinks(t *testing.T) {
	var file, console bytes.Buffer
	logger := zap.New(newCore(zapcore.AddSync(&file), zapcore.AddSync(&console), zapcore.DebugLevel))
	logger.Debug("chat refreshed", zap.Int64("chat_id", 5))

	if !strings.Contains(file.String(), `"chat_id":5`) {
		t.Errorf("file sink = %q", file.String())
	}
	if !strings.Contains(console.String(), "chat refreshed") {
		t.Errorf("console sink = %q", console.String())
	}
}
