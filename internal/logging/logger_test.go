package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerFormatsKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "grouping", LevelInfo)

	l.Info("Detection complete", "groups", 3, "confidence", 0.9, "dangling")

	out := buf.String()
	if !strings.Contains(out, "[grouping] ") {
		t.Errorf("missing prefix: %q", out)
	}
	if !strings.Contains(out, "[INFO] Detection complete groups=3 confidence=0.9") {
		t.Errorf("unexpected line: %q", out)
	}
	if strings.Contains(out, "dangling") {
		t.Errorf("odd trailing key should be dropped: %q", out)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "queue", LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below warn should be dropped: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "worker", LevelInfo).Named("storage").Error("boom")

	if !strings.Contains(buf.String(), "[worker.storage] ") {
		t.Errorf("nested prefix missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
