package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"kyc-backup/internal/config"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/logging"
)

// PostgresStore drives pg_dump, pg_restore, createdb, dropdb and psql
type PostgresStore struct {
	cfg    config.DatabaseConfig
	runner CommandRunner
	logger *logging.Logger
	retry  *apperrors.RetryHandler
}

// NewPostgresStore creates a store for the configured PostgreSQL server
func NewPostgresStore(cfg config.DatabaseConfig, runner CommandRunner, logger *logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &PostgresStore{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		retry:  apperrors.NewDefaultRetryHandler(),
	}
}

// WithRetryHandler replaces the retry policy used for read-only calls
func (s *PostgresStore) WithRetryHandler(rh *apperrors.RetryHandler) *PostgresStore {
	s.retry = rh
	return s
}

func (s *PostgresStore) Engine() string   { return config.EnginePostgres }
func (s *PostgresStore) Database() string { return s.cfg.Database }
func (s *PostgresStore) Close() error     { return nil }

func (s *PostgresStore) connArgs() []string {
	args := []string{"--no-password"}
	if s.cfg.Host != "" {
		args = append(args, "--host", s.cfg.Host)
	}
	if s.cfg.Port != 0 {
		args = append(args, "--port", strconv.Itoa(s.cfg.Port))
	}
	if s.cfg.Username != "" {
		args = append(args, "--username", s.cfg.Username)
	}
	return args
}

func (s *PostgresStore) env() []string {
	var env []string
	if s.cfg.Password != "" {
		env = append(env, "PGPASSWORD="+s.cfg.Password)
	}
	if s.cfg.SSLMode != "" {
		env = append(env, "PGSSLMODE="+s.cfg.SSLMode)
	}
	if secs := s.cfg.ConnectTimeoutSeconds(); secs > 0 {
		env = append(env, "PGCONNECT_TIMEOUT="+strconv.Itoa(secs))
	}
	return env
}

func (s *PostgresStore) run(ctx context.Context, op string, name string, args []string, stdout io.Writer) error {
	return s.runWithin(ctx, s.cfg.OperationTimeout, op, name, args, stdout)
}

// runWithin runs a tool bounded by timeout, or unbounded when it is zero
func (s *PostgresStore) runWithin(ctx context.Context, timeout time.Duration, op string, name string, args []string, stdout io.Writer) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := s.runner.Run(ctx, Command{
		Name:   name,
		Args:   append(s.connArgs(), args...),
		Env:    s.env(),
		Stdout: stdout,
	})
	logCall(ctx, s.logger, s.Engine(), op, start, err)
	return err
}

// query runs a single-value psql query against db
func (s *PostgresStore) query(ctx context.Context, op, db, sql string) (string, error) {
	var out bytes.Buffer
	err := s.retry.Retry(ctx, func() error {
		out.Reset()
		return s.runWithin(ctx, s.cfg.ConnectTimeout, op, "psql", []string{"--dbname", db, "--tuples-only", "--no-align", "--quiet", "--command", sql}, &out)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// Ping checks that the server accepts the configured credentials
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.query(ctx, "Ping", "postgres", "SELECT 1")
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("cannot reach PostgreSQL at %s", s.cfg.Address()))
	}
	return nil
}

// DumpTo writes a pg_dump custom-format archive of the configured database to w
func (s *PostgresStore) DumpTo(ctx context.Context, w io.Writer) error {
	err := s.run(ctx, "DumpTo", "pg_dump", []string{"--format=custom", "--dbname", s.cfg.Database}, w)
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("pg_dump of %s failed", s.cfg.Database))
	}
	return nil
}

// DatabaseExists reports whether a database named name exists on the server
func (s *PostgresStore) DatabaseExists(ctx context.Context, name string) (bool, error) {
	out, err := s.query(ctx, "DatabaseExists", "postgres",
		"SELECT count(*) FROM pg_database WHERE datname = "+quoteLiteral(name))
	if err != nil {
		return false, apperrors.WrapError(err, "failed to look up database")
	}
	return out == "1", nil
}

// CountTables returns the number of user tables in database name
func (s *PostgresStore) CountTables(ctx context.Context, name string) (int, error) {
	out, err := s.query(ctx, "CountTables", name,
		"SELECT count(*) FROM information_schema.tables WHERE table_schema NOT IN ('pg_catalog', 'information_schema')")
	if err != nil {
		return 0, apperrors.WrapError(err, "failed to count tables")
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("unexpected table count %q: %w", out, err)
	}
	return n, nil
}

// DropDatabase drops database name. Never retried.
func (s *PostgresStore) DropDatabase(ctx context.Context, name string) error {
	return s.run(ctx, "DropDatabase", "dropdb", []string{"--if-exists", name}, io.Discard)
}

// CreateEmptyDatabase creates database name owned by the connecting user. Never retried.
func (s *PostgresStore) CreateEmptyDatabase(ctx context.Context, name string) error {
	return s.run(ctx, "CreateEmptyDatabase", "createdb", []string{name}, io.Discard)
}

// LoadFrom restores a custom-format archive at path into target. Never retried.
func (s *PostgresStore) LoadFrom(ctx context.Context, path string, target string) error {
	return s.run(ctx, "LoadFrom", "pg_restore",
		[]string{"--dbname", target, "--no-owner", "--no-privileges", "--exit-on-error", path}, io.Discard)
}

// quoteLiteral quotes s as a SQL string literal
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
