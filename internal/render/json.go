package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/sqldump/sqldump/internal/query"
)

const FormatJSON = "json"

// JSONSerializer writes an array with one object per row. Object keys follow
// column order and values keep their JSON type where one exists.
type JSONSerializer struct {
	// Indent is the number of spaces per nesting level; zero is compact.
	Indent int
}

func (s JSONSerializer) Render(rs query.ResultSet, _, _ string) ([]byte, error) {
	keys := make([][]byte, len(rs.Columns))
	for i, column := range rs.Columns {
		if !utf8.ValidString(column) {
			return nil, serializationErrorf(FormatJSON, "column %d name is not valid UTF-8", i)
		}
		encoded, err := json.Marshal(column)
		if err != nil {
			return nil, &SerializationError{Format: FormatJSON, Err: err}
		}
		keys[i] = encoded
	}

	var compact bytes.Buffer
	compact.WriteByte('[')
	for i, row := range rs.Rows {
		if i > 0 {
			compact.WriteByte(',')
		}
		compact.WriteByte('{')
		for j, value := range row {
			if j > 0 {
				compact.WriteByte(',')
			}
			encoded, err := marshalValue(value)
			if err != nil {
				return nil, serializationErrorf(FormatJSON, "row %d column %q: %w", i, rs.Columns[j], err)
			}
			compact.Write(keys[j])
			compact.WriteByte(':')
			compact.Write(encoded)
		}
		compact.WriteByte('}')
	}
	compact.WriteByte(']')

	if s.Indent <= 0 || len(rs.Rows) == 0 {
		return compact.Bytes(), nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", strings.Repeat(" ", s.Indent)); err != nil {
		return nil, &SerializationError{Format: FormatJSON, Err: err}
	}
	return out.Bytes(), nil
}

func marshalValue(value any) ([]byte, error) {
	switch typed := value.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		if !utf8.ValidString(typed) {
			return nil, fmt.Errorf("value is not valid UTF-8")
		}
		return json.Marshal(typed)
	case []byte:
		if !utf8.Valid(typed) {
			return nil, fmt.Errorf("value is not valid UTF-8")
		}
		return json.Marshal(string(typed))
	case float32:
		if !isFinite(float64(typed)) {
			return nil, fmt.Errorf("value %v has no JSON form", typed)
		}
	case float64:
		if !isFinite(typed) {
			return nil, fmt.Errorf("value %v has no JSON form", typed)
		}
	case time.Time:
		return json.Marshal(formatTime(typed))
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
	default:
		if _, ok := typed.(json.Marshaler); ok {
			break
		}
		text, err := FormatValue(typed)
		if err != nil {
			return nil, err
		}
		return json.Marshal(text)
	}
	return json.Marshal(value)
}
