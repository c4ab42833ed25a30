package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   logrus.Level
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   logrus.InfoLevel,
		},
		{
			name:   "verbose json",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   logrus.DebugLevel,
		},
		{
			name:   "quiet",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   logrus.ErrorLevel,
		},
		{
			name:   "debug",
			config: Config{Level: LogLevelDebug},
			want:   logrus.TraceLevel,
		},
		{
			name:   "unknown level falls back to normal",
			config: Config{Level: "chatty"},
			want:   logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}

			if got := logger.logger.GetLevel(); got != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogger_LogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	var buf bytes.Buffer

	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.WithContext(context.Background()).Info("hello file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file missing message: %s", data)
	}
	if !strings.Contains(buf.String(), "hello file") {
		t.Errorf("output missing message: %s", buf.String())
	}
}

func TestLogger_LogStage(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	ctx := ContextWithRunID(context.Background(), "run-1")
	logger.LogStage(ctx, "dump", "failed", 2*time.Second, errors.New("pg_dump exited 1"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}

	if entry["stage"] != "dump" {
		t.Errorf("stage = %v, want dump", entry["stage"])
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", entry["run_id"])
	}
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
}

func TestLogger_LogStoreCallDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogStoreCall(context.Background(), "s3", "ListBuckets", time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output at normal level, got %s", buf.String())
	}

	logger.SetLevel(LogLevelDebug)
	logger.LogStoreCall(context.Background(), "s3", "ListBuckets", time.Millisecond, nil)
	if !strings.Contains(buf.String(), "ListBuckets") {
		t.Errorf("expected store call at debug level, got %s", buf.String())
	}
}

func TestLogger_LogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	done := logger.LogOperationStart(context.Background(), "backup", map[string]interface{}{"root": "/backups"})
	done(nil, map[string]interface{}{"artifacts": 3})

	if !strings.Contains(buf.String(), "Operation started") || !strings.Contains(buf.String(), "root=/backups") {
		t.Errorf("expected start message with fields, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), "Operation completed") || !strings.Contains(buf.String(), "artifacts=3") {
		t.Errorf("expected completion message, got %s", buf.String())
	}

	buf.Reset()
	done = logger.LogOperationStart(context.Background(), "backup", nil)
	done(errors.New("dump failed"), nil)
	if !strings.Contains(buf.String(), "Operation failed") || !strings.Contains(buf.String(), "dump failed") {
		t.Errorf("expected failure message, got %s", buf.String())
	}
}

func TestLogger_LogCommandRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "json"})

	logger.LogCommand(context.Background(), "mysql", []string{"--user=kyc", "--password=hunter2", "kyc"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if entry["tool"] != "mysql" {
		t.Errorf("tool = %v, want mysql", entry["tool"])
	}
	if entry["args"] != "--user=kyc --password=*** kyc" {
		t.Errorf("args = %v", entry["args"])
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("password leaked into log: %s", buf.String())
	}
}

func TestRunIDFromContext(t *testing.T) {
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty run id, got %q", got)
	}

	id := NewRunID()
	if len(id) != 36 {
		t.Errorf("expected uuid, got %q", id)
	}
	if got := RunIDFromContext(ContextWithRunID(context.Background(), id)); got != id {
		t.Errorf("RunIDFromContext() = %q, want %q", got, id)
	}
}

func TestRedactArgs(t *testing.T) {
	got := RedactArgs([]string{"mysqldump", "--password=hunter2", "-psecret", "-P3306", "--port=5432"})
	want := []string{"mysqldump", "--password=***", "-p***", "-P3306", "--port=5432"}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RedactArgs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
