package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/observability"
	"github.com/sqldump/sqldump/internal/query"
)

type Options struct {
	// QueryTimeout bounds a single execution; zero leaves only the caller's
	// context in charge.
	QueryTimeout time.Duration
	// RowLimit caps returned rows by wrapping the statement; zero is unlimited.
	RowLimit int
	Logger   *slog.Logger
}

// Runner executes definitions against a database/sql pool. Each execution
// holds one pooled connection and returns it before Execute returns.
type Runner struct {
	db      *sql.DB
	options Options
}

var _ query.Runner = (*Runner)(nil)

func NewRunner(db *sql.DB, options Options) *Runner {
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{db: db, options: options}
}

func (r *Runner) Execute(ctx context.Context, def catalog.Definition, restriction string) (query.ResultSet, error) {
	sqlText := stripTrailingSemicolons(def.SQL)
	if sqlText == "" {
		return query.ResultSet{}, &query.ExecutionError{Key: def.Key, Kind: query.KindSyntax, Err: fmt.Errorf("sql is required")}
	}
	sqlText = query.Restrict(sqlText, restriction)
	if r.options.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, r.options.RowLimit)
	}

	if r.options.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.options.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := r.execute(ctx, sqlText)
	elapsed := time.Since(start)
	if err != nil {
		execErr := query.NewExecutionError(def.Key, err)
		observability.ObserveQueryExecution(string(execErr.Kind), 0, elapsed)
		r.options.Logger.WarnContext(ctx, "query execution failed",
			slog.String("query_key", def.Key),
			slog.String("kind", string(execErr.Kind)),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return query.ResultSet{}, execErr
	}

	observability.ObserveQueryExecution("ok", result.Len(), elapsed)
	r.options.Logger.DebugContext(ctx, "query executed",
		slog.String("query_key", def.Key),
		slog.Int("rows", result.Len()),
		slog.Int("columns", len(result.Columns)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return result, nil
}

func (r *Runner) execute(ctx context.Context, sqlText string) (query.ResultSet, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Drivers report columns even when no row follows.
	columns, err := rows.Columns()
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.ResultSet{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.ResultSet{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.NewResultSet(columns, resultRows)
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
