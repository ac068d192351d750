package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)

const exportTimeLayout = "20060102T150405Z"

// BuildExportFileName names one export: creation time in UTC, a unique id and
// the format as extension. Names sort by creation time.
func BuildExportFileName(createdAt time.Time, exportID, format string) (string, error) {
	if err := validatePathComponent(exportID, "export id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(format, "format"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s.%s", createdAt.UTC().Format(exportTimeLayout), exportID, format), nil
}

// BuildExportDir returns <prefix>/<query key>, the directory holding every
// export of one query.
func BuildExportDir(prefix, queryKey string) (string, error) {
	if err := validatePathComponent(queryKey, "query key"); err != nil {
		return "", err
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return queryKey, nil
	}
	for _, component := range strings.Split(prefix, "/") {
		if err := validatePathComponent(component, "export prefix"); err != nil {
			return "", err
		}
	}
	return path.Join(prefix, queryKey), nil
}

// BuildExportPath returns <prefix>/<query key>/<file name>.
func BuildExportPath(prefix, queryKey, fileName string) (string, error) {
	dir, err := BuildExportDir(prefix, queryKey)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(fileName, "export file name"); err != nil {
		return "", err
	}
	return path.Join(dir, fileName), nil
}

// ExportFormat returns the extension of an export file name.
func ExportFormat(fileName string) string {
	ext := path.Ext(fileName)
	return strings.TrimPrefix(ext, ".")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || strings.Contains(value, "..") {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
