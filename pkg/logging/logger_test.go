package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{" WARN ", slog.LevelWarn, true},
		{"", slog.LevelInfo, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tc := range cases {
		got, ok := ParseLevel(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLevel(%q) = %v, %v", tc.in, got, ok)
		}
	}
}

func TestNewJSONFormatWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewComponentLogger(New(&buf, "info", "json"), "call")
	logger.Debug("hidden")
	logger.Info("call_session_start", "session_id", "s1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["msg"] != "call_session_start" || rec["component"] != "call" || rec["session_id"] != "s1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}
