package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{in: "debug", want: zerolog.DebugLevel},
		{in: " WARNING ", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "bogus", want: zerolog.InfoLevel},
		{in: "", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatal("With() should produce a non-zero logger")
	}
}

func TestWithFieldsAreWritten(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).With(String("comp", "scheduler"))
	l.Warn("trigger armed", Tag("abc:start"), ChatID(42), Int("n", 2))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if m["comp"] != "scheduler" || m["tag"] != "abc:start" || m["chat_id"] != float64(42) || m["message"] != "trigger armed" {
		t.Fatalf("unexpected log line: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want logging_test.go:<line>", c)
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	got := formatChatLine([]byte(`{"level":"warn","message":"reprogram skipped","id":"r1","err":"bad zone"}` + "\n"))
	want := "[WARN] reprogram skipped\n- err=bad zone\n- id=r1"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}
	if raw := formatChatLine([]byte("not json")); raw != "not json" {
		t.Fatalf("formatChatLine(raw) = %q", raw)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("x", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate = %q, want short", got)
	}
}
