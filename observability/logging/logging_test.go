package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestSetupWithOptionsWritesFile(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	path := filepath.Join(t.TempDir(), "ledgerd.log")
	logger, closer := SetupWithOptions(Options{Service: "ledgerd", Env: "test", Level: "debug", File: path})
	logger.Debug("pool updated", slog.String("asset", "ETH"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close log file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"service":"ledgerd"`, `"env":"test"`, `"severity":"DEBUG"`, `"message":"pool updated"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %s missing %s", line, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("account", "0xabc"); got.Value.String() != "0xabc" {
		t.Fatalf("allowlisted key masked: %v", got)
	}
	if got := MaskField("token", "secret"); got.Value.String() != RedactedValue {
		t.Fatalf("sensitive key leaked: %v", got)
	}
	if got := MaskField("token", ""); got.Value.String() != "" {
		t.Fatalf("empty value should pass through: %v", got)
	}
}

func TestMaskURL(t *testing.T) {
	got := MaskURL("dsn", "postgres://ledger:hunter2@db:5432/ledger?sslmode=disable")
	if strings.Contains(got.Value.String(), "hunter2") || !strings.Contains(got.Value.String(), "db:5432") {
		t.Fatalf("unexpected masked url %q", got.Value.String())
	}
	if got := MaskURL("dsn", "file:ledger.db"); got.Value.String() != RedactedValue {
		t.Fatalf("expected opaque value masked, got %q", got.Value.String())
	}
}
