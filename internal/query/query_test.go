package query

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestRestrictAppendsWhereClause(t *testing.T) {
	got := Restrict("SELECT * FROM instances", "uuid='0b5a4c5e-3f1f-4c36-9a43-2a1a7e0b9d11'")
	want := "SELECT * FROM instances WHERE uuid='0b5a4c5e-3f1f-4c36-9a43-2a1a7e0b9d11'"
	if got != want {
		t.Fatalf("Restrict() = %q, want %q", got, want)
	}
}

func TestRestrictWithoutRestrictionLeavesSQL(t *testing.T) {
	if got := Restrict("SELECT 1", "  "); got != "SELECT 1" {
		t.Fatalf("Restrict() = %q", got)
	}
}

func TestEqualsRestriction(t *testing.T) {
	if got := EqualsRestriction("uuid", "abc"); got != "uuid='abc'" {
		t.Fatalf("EqualsRestriction() = %q", got)
	}
	if got := EqualsRestriction("name", "o'brien"); got != "name='o''brien'" {
		t.Fatalf("EqualsRestriction() = %q", got)
	}
}

func TestNewResultSetRejectsDuplicateColumns(t *testing.T) {
	if _, err := NewResultSet([]string{"id", "id"}, nil); err == nil {
		t.Fatal("expected duplicate column error")
	}
}

func TestNewResultSetRejectsRaggedRows(t *testing.T) {
	if _, err := NewResultSet([]string{"id", "name"}, [][]any{{1}}); err == nil {
		t.Fatal("expected row width error")
	}
}

func TestResultSetFieldsKeepColumnOrder(t *testing.T) {
	rs, err := NewResultSet([]string{"tstamp", "host", "vcpus"}, [][]any{{int64(10), "node-1", int64(8)}})
	if err != nil {
		t.Fatalf("NewResultSet() error = %v", err)
	}
	fields := rs.Fields(0)
	if len(fields) != 3 {
		t.Fatalf("len(fields) = %d", len(fields))
	}
	for i, name := range []string{"tstamp", "host", "vcpus"} {
		if fields[i].Name != name {
			t.Fatalf("fields[%d].Name = %q, want %q", i, fields[i].Name, name)
		}
	}
	if fields[1].Value != "node-1" {
		t.Fatalf("fields[1].Value = %#v", fields[1].Value)
	}
}

func TestNewResultSetEmptyRowsNotNil(t *testing.T) {
	rs, err := NewResultSet([]string{"a"}, nil)
	if err != nil {
		t.Fatalf("NewResultSet() error = %v", err)
	}
	if rs.Rows == nil || rs.Len() != 0 {
		t.Fatalf("Rows = %#v", rs.Rows)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: KindTimeout},
		{name: "cancelled", err: context.Canceled, want: KindCancelled},
		{name: "bad conn", err: driver.ErrBadConn, want: KindConnectivity},
		{name: "pgx syntax", err: &pgconn.PgError{Code: "42601"}, want: KindSyntax},
		{name: "pgx undefined table", err: &pgconn.PgError{Code: "42P01"}, want: KindSyntax},
		{name: "pgx statement timeout", err: &pgconn.PgError{Code: "57014"}, want: KindTimeout},
		{name: "pgx admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: KindConnectivity},
		{name: "pq connection failure", err: &pq.Error{Code: "08006"}, want: KindConnectivity},
		{name: "pq syntax", err: &pq.Error{Code: "42601"}, want: KindSyntax},
		{name: "sqlite message", err: errors.New(`SQL logic error: near "SELEC": syntax error (1)`), want: KindSyntax},
		{name: "duckdb message", err: errors.New("Parser Error: syntax error at or near \"FORM\""), want: KindSyntax},
		{name: "other", err: errors.New("disk full"), want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecutionErrorRetryable(t *testing.T) {
	timeout := NewExecutionError("hosts", context.DeadlineExceeded)
	if !timeout.Retryable() {
		t.Fatal("timeout should be retryable")
	}
	syntax := NewExecutionError("hosts", &pgconn.PgError{Code: "42601"})
	if syntax.Retryable() {
		t.Fatal("syntax error should not be retryable")
	}
	if !errors.Is(timeout, context.DeadlineExceeded) {
		t.Fatal("ExecutionError should unwrap to the cause")
	}
	var execErr *ExecutionError
	if !errors.As(fmt.Errorf("wrapped: %w", syntax), &execErr) || execErr.Kind != KindSyntax {
		t.Fatalf("errors.As() = %+v", execErr)
	}
}
