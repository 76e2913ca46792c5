package mysql

import (
	"strings"
	"testing"
)

func TestSchemaDefaults(t *testing.T) {
	schema, err := Schema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS outbound_messages",
		"CREATE TABLE IF NOT EXISTS inbound_responses",
		"CREATE TABLE IF NOT EXISTS relay_state",
		"payload LONGBLOB",
		"INDEX idx_status_expires (status, expires_at)",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected %q in schema", want)
		}
	}
}

func TestSchemaCustomTables(t *testing.T) {
	statements, err := SchemaStatements(WithMessageTable("nvss.outbound"), WithResponseTable("nvss.inbound"), WithStateTable("nvss.state"))
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(statements))
	}
	if !strings.Contains(statements[1], "nvss.inbound") {
		t.Fatalf("expected custom response table")
	}

	if _, err := Schema(WithStateTable("state;drop")); err == nil {
		t.Fatalf("expected invalid table name error")
	}
}
