package database

import (
	"context"
	"fmt"
	"io"
	"time"

	"kyc-backup/internal/config"
	"kyc-backup/internal/logging"
)

// Store is the relational store as seen by backup and restore.
// DumpTo writes the engine's restorable archive format to w.
type Store interface {
	Engine() string
	Database() string
	Ping(ctx context.Context) error
	DumpTo(ctx context.Context, w io.Writer) error
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CountTables(ctx context.Context, name string) (int, error)
	DropDatabase(ctx context.Context, name string) error
	CreateEmptyDatabase(ctx context.Context, name string) error
	LoadFrom(ctx context.Context, path string, target string) error
	Close() error
}

// DumpExtension returns the artifact extension for an engine's dump format
func DumpExtension(engine string) string {
	if engine == config.EngineMySQL {
		return "sql"
	}
	return "dump"
}

// New builds the store for the configured engine
func New(cfg config.DatabaseConfig, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	runner := &ExecRunner{ToolsDir: cfg.ToolsDir, Logger: logger}

	switch cfg.Engine {
	case config.EnginePostgres:
		return NewPostgresStore(cfg, runner, logger), nil
	case config.EngineMySQL:
		return OpenMySQLStore(cfg, runner, logger)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", cfg.Engine)
	}
}

// withTimeout bounds ctx by d when d is positive
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func logCall(ctx context.Context, logger *logging.Logger, engine, op string, start time.Time, err error) {
	logger.LogStoreCall(ctx, engine, op, time.Since(start), err)
}
