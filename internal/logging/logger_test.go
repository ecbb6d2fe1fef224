package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range testCases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "securenotes.log")

	logger, err := NewLogger(Config{Level: "info", FilePath: logPath})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	logger.Info("file written", zap.String("file_id", "file-1"))
	logger.Debug("suppressed entry")
	_ = logger.Sync()

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(contents), "file written") || !strings.Contains(string(contents), "file-1") {
		t.Fatalf("expected entry in log file, got %s", contents)
	}
	if strings.Contains(string(contents), "suppressed entry") {
		t.Fatalf("debug entry must be filtered at info level")
	}
}
