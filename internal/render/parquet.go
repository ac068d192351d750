package render

import (
	"bytes"

	"github.com/parquet-go/parquet-go"

	"github.com/sqldump/sqldump/internal/query"
)

const (
	FormatParquet    = "parquet"
	ParquetMediaType = "application/vnd.apache.parquet"
)

// ParquetSerializer writes every column as an optional UTF-8 string, using
// the same text forms as XML. SQL NULL stays null. The schema is named after
// rootTag. Parquet groups order their fields by name, so file columns are
// sorted regardless of result order.
type ParquetSerializer struct{}

func (ParquetSerializer) Render(rs query.ResultSet, rootTag, _ string) ([]byte, error) {
	if len(rs.Columns) == 0 {
		return nil, serializationErrorf(FormatParquet, "result has no columns")
	}
	group := make(parquet.Group, len(rs.Columns))
	for _, column := range rs.Columns {
		if column == "" {
			return nil, serializationErrorf(FormatParquet, "empty column name")
		}
		group[column] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema(rootTag, group)

	leaf := make(map[string]int, len(rs.Columns))
	for i, path := range schema.Columns() {
		leaf[path[0]] = i
	}

	rows := make([]parquet.Row, 0, len(rs.Rows))
	for i, values := range rs.Rows {
		row := make(parquet.Row, len(rs.Columns))
		for j, value := range values {
			columnIndex := leaf[rs.Columns[j]]
			if value == nil {
				row[columnIndex] = parquet.NullValue().Level(0, 0, columnIndex)
				continue
			}
			text, err := FormatValue(value)
			if err != nil {
				return nil, serializationErrorf(FormatParquet, "row %d column %q: %w", i, rs.Columns[j], err)
			}
			row[columnIndex] = parquet.ValueOf(text).Level(0, 1, columnIndex)
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	writer := parquet.NewWriter(&buf, schema)
	if len(rows) > 0 {
		if _, err := writer.WriteRows(rows); err != nil {
			return nil, serializationErrorf(FormatParquet, "write rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, serializationErrorf(FormatParquet, "close writer: %w", err)
	}
	return buf.Bytes(), nil
}
