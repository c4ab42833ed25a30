package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"kyc-backup/internal/config"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
)

// MySQLStore dumps with mysqldump, loads with mysql and runs admin
// statements over a database/sql connection.
type MySQLStore struct {
	cfg    config.DatabaseConfig
	runner CommandRunner
	db     *sql.DB
	logger *logging.Logger
	retry  *apperrors.RetryHandler
}

// NewMySQLStore creates a store around an already opened admin connection
func NewMySQLStore(cfg config.DatabaseConfig, runner CommandRunner, db *sql.DB, logger *logging.Logger) *MySQLStore {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &MySQLStore{
		cfg:    cfg,
		runner: runner,
		db:     db,
		logger: logger,
		retry:  apperrors.NewDefaultRetryHandler(),
	}
}

// OpenMySQLStore opens the admin connection lazily; no network I/O happens here
func OpenMySQLStore(cfg config.DatabaseConfig, runner CommandRunner, logger *logging.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", AdminDSN(cfg))
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to open database connection", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewMySQLStore(cfg, runner, db, logger), nil
}

// WithRetryHandler replaces the retry policy used for read-only calls
func (s *MySQLStore) WithRetryHandler(rh *apperrors.RetryHandler) *MySQLStore {
	s.retry = rh
	return s
}

// AdminDSN returns a DSN that connects to the server without selecting a database
func AdminDSN(cfg config.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.Timeout = cfg.ConnectTimeout
	mc.ParseTime = true
	return mc.FormatDSN()
}

func (s *MySQLStore) Engine() string   { return config.EngineMySQL }
func (s *MySQLStore) Database() string { return s.cfg.Database }

// Close releases the admin connection
func (s *MySQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MySQLStore) toolArgs() []string {
	args := []string{"--host=" + s.cfg.Host, "--user=" + s.cfg.Username}
	if s.cfg.Port != 0 {
		args = append(args, "--port="+strconv.Itoa(s.cfg.Port))
	}
	if secs := s.cfg.ConnectTimeoutSeconds(); secs > 0 {
		args = append(args, "--connect-timeout="+strconv.Itoa(secs))
	}
	return args
}

func (s *MySQLStore) env() []string {
	if s.cfg.Password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + s.cfg.Password}
}

// Ping checks that the server accepts the configured credentials
func (s *MySQLStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.retry.Retry(ctx, func() error {
		ctx, cancel := withTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
		return s.db.PingContext(ctx)
	})
	logCall(ctx, s.logger, s.Engine(), "Ping", start, err)
	s.logger.LogDatabaseConnection(s.cfg.Address(), s.cfg.Database, err == nil, time.Since(start), err)
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("cannot reach MySQL at %s", s.cfg.Address()))
	}
	return nil
}

// DumpTo writes a consistent mysqldump of the configured database to w
func (s *MySQLStore) DumpTo(ctx context.Context, w io.Writer) error {
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	args := append(s.toolArgs(),
		"--single-transaction",
		"--routines",
		"--triggers",
		"--events",
		"--no-tablespaces",
		s.cfg.Database,
	)

	start := time.Now()
	err := s.runner.Run(ctx, Command{Name: "mysqldump", Args: args, Env: s.env(), Stdout: w})
	logCall(ctx, s.logger, s.Engine(), "DumpTo", start, err)
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("mysqldump of %s failed", s.cfg.Database))
	}
	return nil
}

// DatabaseExists reports whether schema name exists
func (s *MySQLStore) DatabaseExists(ctx context.Context, name string) (bool, error) {
	n, err := s.queryInt(ctx, "DatabaseExists",
		"SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?", name)
	if err != nil {
		return false, apperrors.WrapError(err, "failed to look up database")
	}
	return n > 0, nil
}

// CountTables returns the number of tables in schema name
func (s *MySQLStore) CountTables(ctx context.Context, name string) (int, error) {
	n, err := s.queryInt(ctx, "CountTables",
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ?", name)
	if err != nil {
		return 0, apperrors.WrapError(err, "failed to count tables")
	}
	return n, nil
}

func (s *MySQLStore) queryInt(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	start := time.Now()
	var n int
	err := s.retry.Retry(ctx, func() error {
		ctx, cancel := withTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
		return s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	})
	logCall(ctx, s.logger, s.Engine(), op, start, err)
	return n, err
}

// DropDatabase drops schema name. Never retried.
func (s *MySQLStore) DropDatabase(ctx context.Context, name string) error {
	return s.exec(ctx, "DropDatabase", "DROP DATABASE IF EXISTS "+quoteIdent(name))
}

// CreateEmptyDatabase creates schema name. Never retried.
func (s *MySQLStore) CreateEmptyDatabase(ctx context.Context, name string) error {
	return s.exec(ctx, "CreateEmptyDatabase", "CREATE DATABASE "+quoteIdent(name))
}

func (s *MySQLStore) exec(ctx context.Context, op, stmt string) error {
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.db.ExecContext(ctx, stmt)
	logCall(ctx, s.logger, s.Engine(), op, start, err)
	return err
}

// LoadFrom replays the dump at path into target with the mysql client. Never retried.
func (s *MySQLStore) LoadFrom(ctx context.Context, path string, target string) error {
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	err = s.runner.Run(ctx, Command{
		Name:   "mysql",
		Args:   append(s.toolArgs(), "--database="+target),
		Env:    s.env(),
		Stdin:  f,
		Stdout: io.Discard,
	})
	logCall(ctx, s.logger, s.Engine(), "LoadFrom", start, err)
	return err
}

// quoteIdent quotes s as a MySQL identifier
func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}
