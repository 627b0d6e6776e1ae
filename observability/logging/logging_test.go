package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMaskFieldRedactsUnlistedKeys(t *testing.T) {
	if got := MaskField("authorization", "Bearer abc").Value.String(); got != RedactedValue {
		t.Fatalf("expected redaction, got %q", got)
	}
	if got := MaskField("op", "ledger.borrow").Value.String(); got != "ledger.borrow" {
		t.Fatalf("allowlisted key masked: %q", got)
	}
	if got := MaskField("secret", "").Value.String(); got != "" {
		t.Fatalf("empty value should pass through, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestSetupWithFileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floord.log")
	logger, closer := SetupWithFile("floord", "test", slog.LevelInfo, FileConfig{Path: path, MaxSizeMB: 1})
	logger.Info("ready", "component", "protocol")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"message":"ready"`, `"severity":"INFO"`, `"service":"floord"`, `"env":"test"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %s", line, want)
		}
	}
}
