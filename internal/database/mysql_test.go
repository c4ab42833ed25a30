package database

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"kyc-backup/internal/config"
)

func testMySQLConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Engine:         config.EngineMySQL,
		Host:           "db",
		Username:       "kyc",
		Password:       "secret",
		Database:       "kyc",
		ConnectTimeout: 5 * time.Second,
	}
}

func newMockMySQLStore(t *testing.T, runner CommandRunner) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMySQLStore(testMySQLConfig(), runner, db, nil).WithRetryHandler(fastRetry()), mock
}

func TestAdminDSN(t *testing.T) {
	dsn := AdminDSN(testMySQLConfig())

	if !strings.Contains(dsn, "tcp(db:3306)") {
		t.Errorf("Expected default port in DSN, got %s", dsn)
	}
	if !strings.HasPrefix(dsn, "kyc:secret@") {
		t.Errorf("Expected credentials in DSN, got %s", dsn)
	}
	if !strings.Contains(dsn, "timeout=5s") {
		t.Errorf("Expected timeout in DSN, got %s", dsn)
	}
}

func TestMySQLStore_DatabaseExists(t *testing.T) {
	store, mock := newMockMySQLStore(t, &fakeRunner{})

	mock.ExpectQuery("SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?").
		WithArgs("kyc").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))

	exists, err := store.DatabaseExists(context.Background(), "kyc")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !exists {
		t.Error("Expected database to exist")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestMySQLStore_CountTables(t *testing.T) {
	store, mock := newMockMySQLStore(t, &fakeRunner{})

	mock.ExpectQuery("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ?").
		WithArgs("kyc").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))

	n, err := store.CountTables(context.Background(), "kyc")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty schema, got %d tables", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestMySQLStore_DropAndCreate(t *testing.T) {
	store, mock := newMockMySQLStore(t, &fakeRunner{})

	mock.ExpectExec("DROP DATABASE IF EXISTS `kyc`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE DATABASE `kyc`").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.DropDatabase(context.Background(), "kyc"); err != nil {
		t.Fatalf("Unexpected drop error: %v", err)
	}
	if err := store.CreateEmptyDatabase(context.Background(), "kyc"); err != nil {
		t.Fatalf("Unexpected create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestMySQLStore_DropFailureIsNotRetried(t *testing.T) {
	store, mock := newMockMySQLStore(t, &fakeRunner{})

	mock.ExpectExec("DROP DATABASE IF EXISTS `kyc`").WillReturnError(errors.New("lock wait timeout"))

	if err := store.DropDatabase(context.Background(), "kyc"); err == nil {
		t.Fatal("Expected drop to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestMySQLStore_DumpTo(t *testing.T) {
	runner := &fakeRunner{outputs: []string{"-- MySQL dump"}}
	store, _ := newMockMySQLStore(t, runner)

	var out strings.Builder
	if err := store.DumpTo(context.Background(), &out); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	call := runner.calls[0]
	if call.Name != "mysqldump" {
		t.Errorf("Expected mysqldump, got %s", call.Name)
	}
	for _, want := range []string{"--single-transaction", "--no-tablespaces", "--host=db", "--connect-timeout=5", "kyc"} {
		if !hasArg(call.Args, want) {
			t.Errorf("Expected argument %q in %v", want, call.Args)
		}
	}
	if !hasArg(call.Env, "MYSQL_PWD=secret") {
		t.Errorf("Expected password in environment, got %v", call.Env)
	}
	if out.String() != "-- MySQL dump" {
		t.Errorf("Unexpected dump output %q", out.String())
	}
}

func TestMySQLStore_SubSecondConnectTimeout(t *testing.T) {
	cfg := testMySQLConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond

	if dsn := AdminDSN(cfg); !strings.Contains(dsn, "timeout=200ms") {
		t.Errorf("Expected dial timeout in DSN, got %s", dsn)
	}

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	runner := &fakeRunner{}
	store := NewMySQLStore(cfg, runner, db, nil)
	if err := store.DumpTo(context.Background(), io.Discard); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !hasArg(runner.calls[0].Args, "--connect-timeout=1") {
		t.Errorf("Expected connect timeout rounded up to 1s, got %v", runner.calls[0].Args)
	}
	if runner.deadlines[0] {
		t.Error("Expected no deadline on the dump when operation_timeout is unset")
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("we`ird"); got != "`we``ird`" {
		t.Errorf("quoteIdent = %s", got)
	}
}
