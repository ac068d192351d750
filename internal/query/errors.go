package query

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindSyntax       ErrorKind = "syntax"
	KindConnectivity ErrorKind = "connectivity"
	KindCancelled    ErrorKind = "cancelled"
	KindUnknown      ErrorKind = "unknown"
)

// ExecutionError reports a data source failure. No rows accompany it.
type ExecutionError struct {
	Key  string
	Kind ErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute query %q (%s): %v", e.Key, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Retryable is true for failures a caller may reasonably try again: timeouts
// and lost connections. Syntax errors never are.
func (e *ExecutionError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindConnectivity
}

// NewExecutionError classifies err and wraps it.
func NewExecutionError(key string, err error) *ExecutionError {
	return &ExecutionError{Key: key, Kind: Classify(err), Err: err}
}

// Classify maps driver and context errors onto an ErrorKind using SQLSTATE
// classes where the driver exposes them.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, driver.ErrBadConn):
		return KindConnectivity
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return KindConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectivity
	}

	// Embedded engines report syntax problems only through the message.
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "syntax error") || strings.Contains(message, "parser error") {
		return KindSyntax
	}
	return KindUnknown
}

func classifySQLState(code string) ErrorKind {
	switch {
	case code == "57014":
		return KindTimeout
	case strings.HasPrefix(code, "42"):
		return KindSyntax
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P03":
		return KindConnectivity
	default:
		return KindUnknown
	}
}
