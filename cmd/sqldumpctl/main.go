package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sqldump/sqldump/internal/cli/sqldumpctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("SQLDUMP_CLI_TIMEOUT")), 30*time.Second)
	options := sqldumpctl.Options{
		BaseURL: envOr("SQLDUMP_API_URL", "http://localhost:8080"),
		APIKey:  strings.TrimSpace(os.Getenv("SQLDUMP_API_KEY")),
		Accept:  envOr("SQLDUMP_ACCEPT", "application/xml"),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := sqldumpctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid SQLDUMP_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
