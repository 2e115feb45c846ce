package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" WARN ": zerolog.WarnLevel,
		"error":  zerolog.ErrorLevel,
		"":       zerolog.InfoLevel,
		"shouty": zerolog.InfoLevel,
		"info":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf).Child("job_id", "42")
	logger.Info().Str("status", "processing").Msg("poll")

	out := buf.String()
	if !strings.Contains(out, "poll") || !strings.Contains(out, "42") || !strings.Contains(out, "processing") {
		t.Errorf("expected message and fields in output, got %q", out)
	}
}

func TestEnableFileOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	if err := logger.EnableFileOutput(dir, "sheetjobs"); err != nil {
		t.Fatalf("EnableFileOutput failed: %v", err)
	}
	logger.Info().Msg("written to both")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "sheetjobs_") {
		t.Fatalf("expected one sheetjobs_*.log file, got %v", entries)
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "written to both") {
		t.Errorf("log file missing message: %q", data)
	}
	if !strings.Contains(buf.String(), "written to both") {
		t.Errorf("console missing message: %q", buf.String())
	}
}
