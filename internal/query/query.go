package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqldump/sqldump/internal/catalog"
)

// ResultSet is a tabular result whose shape is only known after execution.
// Columns keep the order reported by the driver and every row holds exactly
// one value per column, in column order. Values keep their driver types.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Field is one column of one row.
type Field struct {
	Name  string
	Value any
}

// NewResultSet checks the row invariant and rejects duplicate column names,
// which could not be told apart once rendered.
func NewResultSet(columns []string, rows [][]any) (ResultSet, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		if _, ok := seen[column]; ok {
			return ResultSet{}, fmt.Errorf("duplicate column %q in result", column)
		}
		seen[column] = struct{}{}
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return ResultSet{}, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(columns))
		}
	}
	if rows == nil {
		rows = [][]any{}
	}
	return ResultSet{Columns: columns, Rows: rows}, nil
}

// Fields returns row i as ordered (name, value) pairs.
func (rs ResultSet) Fields(i int) []Field {
	row := rs.Rows[i]
	fields := make([]Field, len(rs.Columns))
	for j, column := range rs.Columns {
		fields[j] = Field{Name: column, Value: row[j]}
	}
	return fields
}

// Len is the number of rows.
func (rs ResultSet) Len() int {
	return len(rs.Rows)
}

// Runner executes stored query definitions.
type Runner interface {
	Execute(ctx context.Context, def catalog.Definition, restriction string) (ResultSet, error)
}

// Restrict appends restriction to sqlText as a WHERE clause.
//
// The restriction is inserted verbatim. Callers must build it only from
// values whose form they have already constrained (for example a parsed
// UUID); passing untrusted text here is SQL injection.
func Restrict(sqlText, restriction string) string {
	if strings.TrimSpace(restriction) == "" {
		return sqlText
	}
	return sqlText + " WHERE " + restriction
}

// EqualsRestriction builds `column='value'` for a value the caller has
// already validated. Single quotes in value are doubled, but no other
// escaping happens.
func EqualsRestriction(column, value string) string {
	return column + "='" + strings.ReplaceAll(value, "'", "''") + "'"
}
