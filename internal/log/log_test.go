package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSetLogger_RebuildsComponents(t *testing.T) {
	old := Logger
	defer SetLogger(old)

	var buf bytes.Buffer
	SetLogger(NewJSONLogger(&buf, "debug"))
	Ledger.Info().Str("address", "abc").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "ledger" {
		t.Errorf("component = %v, want ledger", entry["component"])
	}
	if entry["address"] != "abc" {
		t.Errorf("address = %v, want abc", entry["address"])
	}
}

func TestNewJSONLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, "warn")
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
	l.Warn().Msg("kept")
	if buf.Len() == 0 {
		t.Error("warn should be written at warn level")
	}
}
