package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})

	log.Info("broker connected", "host", "localhost")

	out := buf.String()
	if !strings.Contains(out, "broker connected") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "host=localhost") {
		t.Errorf("expected attribute in output, got %q", out)
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	log.Info("sample stored", "bytes_received", 100.5)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "sample stored" {
		t.Errorf("msg = %v, want %q", entry["msg"], "sample stored")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelWarn, Format: FormatText, Output: &buf})

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("warn message should be logged")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if got := ParseFormat("json"); got != FormatJSON {
		t.Errorf("ParseFormat(json) = %v", got)
	}
	if got := ParseFormat("anything"); got != FormatText {
		t.Errorf("ParseFormat(anything) = %v", got)
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	// Must not panic and must not write anywhere visible.
	log.Info("discarded")
}

func TestForComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	comp := ForComponent(log, "stats")
	comp.Info("cache refreshed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry[ComponentKey] != "stats" {
		t.Errorf("component = %v, want %q", entry[ComponentKey], "stats")
	}
}

func TestForComponentNilLogger(t *testing.T) {
	log := ForComponent(nil, "api")
	// Must be usable without panicking.
	log.Info("ignored")
}
