package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitWritesJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "zkfuse.log")
	if err := Init(Config{Level: "debug", Format: "json", Output: out}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	L().Debug("mounted", zap.String("path", "/mnt/zk"))
	if err := Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"mounted"`) || !strings.Contains(string(data), `"path":"/mnt/zk"`) {
		t.Errorf("unexpected log output: %s", data)
	}
}

func TestSetLevel(t *testing.T) {
	if err := Init(Config{Level: "bogus", Output: filepath.Join(t.TempDir(), "l.log")}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if Level() != zapcore.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %v", Level())
	}

	if !SetLevel("warn") {
		t.Fatal("SetLevel(warn) rejected")
	}
	if Level() != zapcore.WarnLevel {
		t.Errorf("Level() = %v, want warn", Level())
	}
	if SetLevel("loud") {
		t.Error("SetLevel(loud) accepted")
	}
	if Level() != zapcore.WarnLevel {
		t.Errorf("rejected SetLevel changed level to %v", Level())
	}
	if L().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info enabled at warn level")
	}
}
