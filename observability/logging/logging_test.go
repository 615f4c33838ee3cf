package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupFileWritesStructuredLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "marketd.log")
	logger, closer, err := SetupFile("marketd", "test", "debug", FileConfig{Path: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Debug("job posted", slog.Uint64("job_id", 1), MaskField("token", "secret"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := bytes.TrimSpace(data)
	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if entry["message"] != "job posted" || entry["severity"] != "DEBUG" || entry["service"] != "marketd" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["token"] != RedactedValue {
		t.Fatalf("token not redacted: %v", entry["token"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("missing timestamp")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("job_id", "7"); attr.Value.String() != "7" {
		t.Fatalf("allowlisted key masked")
	}
	if attr := MaskField("signature", "0xabc"); attr.Value.String() != RedactedValue {
		t.Fatalf("signature not masked")
	}
	if attr := MaskField("signature", " "); strings.TrimSpace(attr.Value.String()) != "" {
		t.Fatalf("empty value should pass through")
	}
}
