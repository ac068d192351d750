package render

import (
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sqldump/sqldump/internal/query"
)

// Serializer turns a result set into a document. rootTag and rowTag name the
// enclosing elements for formats that have them and are ignored otherwise.
type Serializer interface {
	Render(rs query.ResultSet, rootTag, rowTag string) ([]byte, error)
}

// SerializationError reports that a result could not be written in the
// requested format. Nothing partial is returned alongside it.
type SerializationError struct {
	Format string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Format, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func serializationErrorf(format, message string, args ...any) *SerializationError {
	return &SerializationError{Format: format, Err: fmt.Errorf(message, args...)}
}

const dateLayout = "2006-01-02"

// FormatValue returns the string form of a driver value as it appears in
// text-only formats. nil becomes the empty string.
func FormatValue(value any) (string, error) {
	switch typed := value.(type) {
	case nil:
		return "", nil
	case string:
		if !utf8.ValidString(typed) {
			return "", fmt.Errorf("value is not valid UTF-8")
		}
		return typed, nil
	case []byte:
		if !utf8.Valid(typed) {
			return "", fmt.Errorf("value is not valid UTF-8")
		}
		return string(typed), nil
	case bool:
		return strconv.FormatBool(typed), nil
	case int:
		return strconv.Itoa(typed), nil
	case int8:
		return strconv.FormatInt(int64(typed), 10), nil
	case int16:
		return strconv.FormatInt(int64(typed), 10), nil
	case int32:
		return strconv.FormatInt(int64(typed), 10), nil
	case int64:
		return strconv.FormatInt(typed, 10), nil
	case uint:
		return strconv.FormatUint(uint64(typed), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(typed), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(typed), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(typed), 10), nil
	case uint64:
		return strconv.FormatUint(typed, 10), nil
	case float32:
		return strconv.FormatFloat(float64(typed), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(typed, 'g', -1, 64), nil
	case time.Time:
		return formatTime(typed), nil
	case fmt.Stringer:
		return typed.String(), nil
	default:
		return fmt.Sprint(typed), nil
	}
}

func formatTime(t time.Time) string {
	if t.Location() == time.UTC && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(dateLayout)
	}
	return t.Format(time.RFC3339Nano)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
