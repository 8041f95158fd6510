package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHandlerFormatsAttrs(t *testing.T) {
	SetLevel("debug")
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf)).With("call_id", "abc")

	log.Info("[Call] Answered", "caller", "6505551234")

	line := buf.String()
	if !strings.Contains(line, "[INFO] [Call] Answered call_id=abc caller=6505551234") {
		t.Errorf("unexpected line %q", line)
	}
}

func TestHandlerGroups(t *testing.T) {
	SetLevel("debug")
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf)).WithGroup("rtp")

	log.Debug("stats", "packets", 3)

	if !strings.Contains(buf.String(), "rtp.packets=3") {
		t.Errorf("expected grouped key, got %q", buf.String())
	}
}

func TestHandlerRespectsGlobalLevel(t *testing.T) {
	SetLevel("warn")
	defer SetLevel("debug")

	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf))
	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn line missing")
	}
	if got := GetLevel(); got != "warn" {
		t.Errorf("GetLevel() = %q, want %q", got, "warn")
	}
}

func TestJSONParsingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONParsingWriter(&buf)

	in := `{"level":"debug","message":"transaction created","time":"2025-01-02T10:11:12Z","tx":"z9hG4bK"}` + "\n"
	n, err := w.Write([]byte(in))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(in) {
		t.Errorf("Write() = %d, want %d", n, len(in))
	}
	want := "[10:11:12] [DEBUG] transaction created tx=z9hG4bK\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	buf.Reset()
	_, _ = w.Write([]byte("plain text\n"))
	if buf.String() != "plain text\n" {
		t.Errorf("plain lines should pass through, got %q", buf.String())
	}
}
