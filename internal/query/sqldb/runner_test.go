package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/datasource"
	"github.com/sqldump/sqldump/internal/query"
)

func TestExecuteAppendsRestriction(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunner(db, Options{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM instances WHERE uuid='7c1b1e4a-2f0c-4d8e-9a1b-3c5d7e9f0a12'`)).
		WillReturnRows(sqlmock.NewRows([]string{"uuid", "host"}).
			AddRow("7c1b1e4a-2f0c-4d8e-9a1b-3c5d7e9f0a12", []byte("node-1")))

	result, err := runner.Execute(context.Background(),
		catalog.Definition{Key: "instances", SQL: "SELECT * FROM instances;"},
		query.EqualsRestriction("uuid", "7c1b1e4a-2f0c-4d8e-9a1b-3c5d7e9f0a12"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Len() != 1 {
		t.Fatalf("rows = %d", result.Len())
	}
	if result.Rows[0][1] != "node-1" {
		t.Fatalf("host = %#v, want string", result.Rows[0][1])
	}
	assertSQLMock(t, mock)
}

func TestExecuteWrapsRowLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunner(db, Options{RowLimit: 2})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM (SELECT * FROM hosts) AS q LIMIT 2`)).
		WillReturnRows(sqlmock.NewRows([]string{"host"}).AddRow("a").AddRow("b"))

	result, err := runner.Execute(context.Background(), catalog.Definition{Key: "hosts", SQL: "SELECT * FROM hosts"}, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Len() != 2 {
		t.Fatalf("rows = %d", result.Len())
	}
	assertSQLMock(t, mock)
}

func TestExecuteReturnsColumnsForEmptyResult(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunner(db, Options{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM hosts`)).
		WillReturnRows(sqlmock.NewRows([]string{"host", "vcpus"}))

	result, err := runner.Execute(context.Background(), catalog.Definition{Key: "hosts", SQL: "SELECT * FROM hosts"}, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Len() != 0 {
		t.Fatalf("rows = %d", result.Len())
	}
	if len(result.Columns) != 2 || result.Columns[0] != "host" || result.Columns[1] != "vcpus" {
		t.Fatalf("columns = %v", result.Columns)
	}
	assertSQLMock(t, mock)
}

func TestExecuteClassifiesDriverErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunner(db, Options{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELEC * FROM hosts`)).
		WillReturnError(&pgconn.PgError{Code: "42601", Message: "syntax error at or near \"SELEC\""})

	_, err := runner.Execute(context.Background(), catalog.Definition{Key: "hosts", SQL: "SELEC * FROM hosts"}, "")
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecutionError", err)
	}
	if execErr.Kind != query.KindSyntax || execErr.Key != "hosts" {
		t.Fatalf("ExecutionError = %+v", execErr)
	}
	if execErr.Retryable() {
		t.Fatal("syntax error should not be retryable")
	}
	assertSQLMock(t, mock)
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunner(db, Options{})

	_, err := runner.Execute(context.Background(), catalog.Definition{Key: "empty", SQL: " ; "}, "")
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecutionError", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteAgainstSQLite(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE citizen (uuid TEXT NOT NULL, name TEXT NOT NULL, age INTEGER)`,
		`INSERT INTO citizen VALUES ('0f8fad5b-d9cb-469f-a165-70867728950e', 'Alice', 31)`,
		`INSERT INTO citizen VALUES ('7c9e6679-7425-40de-944b-e07fc1f90ae7', 'Robert''); DROP TABLE citizen;--', NULL)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	runner := NewRunner(db, Options{})
	def := catalog.Definition{Key: "citizens", SQL: "SELECT uuid, name, age FROM citizen"}

	all, err := runner.Execute(ctx, def, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if all.Len() != 2 {
		t.Fatalf("rows = %d", all.Len())
	}
	if all.Rows[1][2] != nil {
		t.Fatalf("age = %#v, want nil", all.Rows[1][2])
	}

	one, err := runner.Execute(ctx, def, query.EqualsRestriction("uuid", "7c9e6679-7425-40de-944b-e07fc1f90ae7"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if one.Len() != 1 || one.Rows[0][1] != "Robert'); DROP TABLE citizen;--" {
		t.Fatalf("rows = %#v", one.Rows)
	}

	none, err := runner.Execute(ctx, def, query.EqualsRestriction("uuid", "00000000-0000-0000-0000-000000000000"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if none.Len() != 0 || len(none.Columns) != 3 {
		t.Fatalf("empty result = %+v", none)
	}
}

func TestExecuteSQLiteSyntaxError(t *testing.T) {
	db := openSQLite(t)
	runner := NewRunner(db, Options{})

	_, err := runner.Execute(context.Background(), catalog.Definition{Key: "broken", SQL: "SELEC 1"}, "")
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecutionError", err)
	}
	if execErr.Kind != query.KindSyntax {
		t.Fatalf("Kind = %q", execErr.Kind)
	}
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	db := openSQLite(t)
	runner := NewRunner(db, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Execute(ctx, catalog.Definition{Key: "one", SQL: "SELECT 1"}, "")
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) || execErr.Kind != query.KindCancelled {
		t.Fatalf("error = %v, want cancelled ExecutionError", err)
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := datasource.Open(context.Background(), datasource.Config{Driver: "sqlite", DSN: "file::memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("datasource.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
