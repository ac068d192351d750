package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

const (
	DefaultRootTag = "root"
	DefaultRowTag  = "row"

	MaxKeyLength = 32
	MaxTagLength = 64
)

var keyPattern = regexp.MustCompile(`^\w+$`)

// Store resolves stored query definitions by key.
type Store interface {
	GetDefinition(ctx context.Context, key string) (Definition, error)
	ListDefinitions(ctx context.Context) ([]Definition, error)
}

// Repository is the writable definition store used by the admin endpoints.
type Repository interface {
	Store
	HealthCheck(ctx context.Context) error
	UpsertDefinition(ctx context.Context, in UpsertDefinitionInput) (Definition, error)
	DeleteDefinition(ctx context.Context, key string) (bool, error)
}

// Auditor records served query executions.
type Auditor interface {
	RecordExecution(ctx context.Context, record AuditRecord) error
}

// AuditRecord describes one execution as seen by the HTTP layer. Outcome is
// "ok" or the name of the failure class.
type AuditRecord struct {
	QueryKey   string
	Restricted bool
	MediaType  string
	Outcome    string
	RowCount   int
	Duration   time.Duration
	TraceID    string
}

// Definition is a named SQL statement plus the tag names used when its
// result is rendered as XML.
type Definition struct {
	Key       string
	SQL       string
	RootTag   string
	RowTag    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type UpsertDefinitionInput struct {
	Key     string
	SQL     string
	RootTag string
	RowTag  string
}

// ValidKey reports whether key can appear in a query URL.
func ValidKey(key string) bool {
	return len(key) <= MaxKeyLength && keyPattern.MatchString(key)
}

// Normalize applies tag defaults and validates the input.
func (in UpsertDefinitionInput) Normalize() (UpsertDefinitionInput, error) {
	in.Key = strings.TrimSpace(in.Key)
	in.RootTag = strings.TrimSpace(in.RootTag)
	in.RowTag = strings.TrimSpace(in.RowTag)
	if in.RootTag == "" {
		in.RootTag = DefaultRootTag
	}
	if in.RowTag == "" {
		in.RowTag = DefaultRowTag
	}

	if !ValidKey(in.Key) {
		return UpsertDefinitionInput{}, fmt.Errorf("invalid query key %q: must match \\w+ and be at most %d characters", in.Key, MaxKeyLength)
	}
	if strings.TrimSpace(in.SQL) == "" {
		return UpsertDefinitionInput{}, fmt.Errorf("sql is required")
	}
	if len(in.RootTag) > MaxTagLength {
		return UpsertDefinitionInput{}, fmt.Errorf("root tag exceeds %d characters", MaxTagLength)
	}
	if len(in.RowTag) > MaxTagLength {
		return UpsertDefinitionInput{}, fmt.Errorf("row tag exceeds %d characters", MaxTagLength)
	}
	if err := CheckXMLName(in.RootTag); err != nil {
		return UpsertDefinitionInput{}, fmt.Errorf("root tag: %w", err)
	}
	if err := CheckXMLName(in.RowTag); err != nil {
		return UpsertDefinitionInput{}, fmt.Errorf("row tag: %w", err)
	}
	return in, nil
}
