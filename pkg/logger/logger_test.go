package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"2", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"1", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"0", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q): got %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false, "info")
	log.Debug().Msg("hidden")
	log.Info().Str("node", "n1").Msg("registered")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["node"] != "n1" || rec["message"] != "registered" {
		t.Errorf("unexpected record: %v", rec)
	}
	if _, ok := rec["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestNew_ConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, true, "debug")
	log.Debug().Msg("probe")

	out := buf.String()
	if !strings.Contains(out, "probe") {
		t.Errorf("missing message: %q", out)
	}
	if strings.HasPrefix(out, "{") {
		t.Errorf("console output should not be JSON: %q", out)
	}
}
