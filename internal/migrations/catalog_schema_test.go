package migrations

import (
	"strings"
	"testing"
)

func TestDefinitionStoreMigrationContainsRequiredTables(t *testing.T) {
	tests := map[string][]string{
		"sql/000001_query_definition.up.sql": {
			"CREATE TABLE query_definition",
			"query_key VARCHAR(32) PRIMARY KEY",
			"root_tag VARCHAR(64) NOT NULL DEFAULT 'root'",
			"row_tag VARCHAR(64) NOT NULL DEFAULT 'row'",
		},
		"sql/000002_query_audit.up.sql": {
			"CREATE TABLE query_audit",
			"CREATE INDEX idx_query_audit_key_created",
		},
	}
	for name, requiredSnippets := range tests {
		body, err := embeddedFS.ReadFile(name)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", name, err)
		}
		sql := string(body)
		for _, snippet := range requiredSnippets {
			if !strings.Contains(sql, snippet) {
				t.Fatalf("%s missing required snippet: %s", name, snippet)
			}
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 || items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("items = %+v", items)
	}
}
