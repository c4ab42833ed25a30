package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows stage transitions and the run summary
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose adds per-bucket and per-artifact detail
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows every external store call
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const runIDKey contextKey = "run_id"

// Logger provides structured logging for backup and restore runs
type Logger struct {
	logger *logrus.Logger
	closer io.Closer
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	logger.SetOutput(output)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		formatter := &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
		if config.ShowCaller {
			formatter.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			}
		}
		logger.SetFormatter(formatter)
	}
	logger.SetReportCaller(config.ShowCaller)

	l := &Logger{logger: logger}
	l.SetLevel(config.Level)

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		logger.SetOutput(io.MultiWriter(output, file))
		l.closer = file
	}

	return l, nil
}

// NewDiscardLogger creates a logger that drops everything, used by tests
func NewDiscardLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelQuiet,
		Output: io.Discard,
	})
	return logger
}

// Close releases the log file if one was opened
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// WithContext returns an entry carrying the run correlation ID when present
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if runID := RunIDFromContext(ctx); runID != "" {
		entry = entry.WithField("run_id", runID)
	}
	return entry
}

// LogStage logs the outcome of one orchestrator stage
func (l *Logger) LogStage(ctx context.Context, stage string, status string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "stage",
		"stage":     stage,
		"status":    status,
		"duration":  duration.String(),
	}

	entry := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry.WithField("error", err.Error()).Error("Stage failed")
		return
	}
	entry.Info("Stage completed")
}

// LogArtifact logs a finalized artifact
func (l *Logger) LogArtifact(ctx context.Context, kind string, path string, size int64) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"operation": "artifact",
		"kind":      kind,
		"path":      path,
		"size":      size,
	}).Info("Artifact written")
}

// LogStoreCall logs a call to an external store
func (l *Logger) LogStoreCall(ctx context.Context, store string, op string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "store_call",
		"store":     store,
		"call":      op,
		"duration":  duration.String(),
	}

	entry := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("Store call failed")
		return
	}
	entry.Debug("Store call succeeded")
}

// LogCommand logs an external tool invocation with credentials masked
func (l *Logger) LogCommand(ctx context.Context, name string, args []string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"operation": "command",
		"tool":      name,
		"args":      strings.Join(RedactArgs(args), " "),
	}).Debug("Running external tool")
}

// LogDatabaseConnection logs database connection attempts
func (l *Logger) LogDatabaseConnection(host string, database string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Info("Database connection established")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.WithFields(fields).Error("Database connection failed")
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	switch level {
	case LogLevelQuiet:
		l.logger.SetLevel(logrus.ErrorLevel)
	case LogLevelVerbose:
		l.logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		l.logger.SetLevel(logrus.TraceLevel)
	default:
		l.logger.SetLevel(logrus.InfoLevel)
	}
}

// LogOperationStart logs the start of an operation and returns a function
// that logs its completion along with any result fields
func (l *Logger) LogOperationStart(ctx context.Context, operation string, fields map[string]interface{}) func(err error, result map[string]interface{}) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.WithContext(ctx).WithFields(logFields).Info("Operation started")

	return func(err error, result map[string]interface{}) {
		done := logrus.Fields{
			"operation": operation,
			"status":    "completed",
			"duration":  time.Since(startTime).Round(time.Millisecond).String(),
		}
		for k, v := range result {
			done[k] = v
		}

		if err != nil {
			done["error"] = err.Error()
			done["success"] = false
			l.WithContext(ctx).WithFields(done).Error("Operation failed")
			return
		}
		done["success"] = true
		l.WithContext(ctx).WithFields(done).Info("Operation completed")
	}
}

// NewRunID returns a fresh correlation ID for a backup or restore run
func NewRunID() string {
	return uuid.NewString()
}

// ContextWithRunID attaches a run correlation ID to the context
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the run correlation ID from context
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// RedactArgs masks password-like values in a command line before it is logged
func RedactArgs(args []string) []string {
	redacted := make([]string, len(args))
	for i, arg := range args {
		redacted[i] = arg
		lower := strings.ToLower(arg)
		for _, key := range []string{"--password=", "password=", "-p"} {
			if key == "-p" {
				if strings.HasPrefix(arg, "-p") && len(arg) > 2 && !strings.HasPrefix(arg, "--") {
					redacted[i] = "-p***"
				}
				continue
			}
			if idx := strings.Index(lower, key); idx != -1 {
				redacted[i] = arg[:idx+len(key)] + "***"
			}
		}
	}
	return redacted
}
