package postgres

import (
	"fmt"
	"strings"
)

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL DEFAULT '',
	certificate_number BIGINT NOT NULL DEFAULT 0,
	event_year BIGINT NOT NULL DEFAULT 0,
	state_auxiliary_id TEXT NOT NULL DEFAULT '',
	record_kind TEXT NOT NULL,
	schema_version TEXT NOT NULL DEFAULT '',
	message_type TEXT NOT NULL DEFAULT '',
	payload BYTEA NOT NULL,
	status TEXT NOT NULL,
	retries INTEGER NOT NULL DEFAULT 0,
	expires_at TIMESTAMPTZ NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[4]s_status_expires_idx ON %[1]s (status, expires_at);
CREATE INDEX IF NOT EXISTS %[4]s_business_key_idx ON %[1]s (jurisdiction_id, event_year, certificate_number, created_at);
CREATE TABLE IF NOT EXISTS %[2]s (
	id TEXT PRIMARY KEY,
	reference_id TEXT NULL,
	jurisdiction_id TEXT NOT NULL DEFAULT '',
	certificate_number BIGINT NOT NULL DEFAULT 0,
	event_year BIGINT NOT NULL DEFAULT 0,
	state_auxiliary_id TEXT NOT NULL DEFAULT '',
	record_kind TEXT NOT NULL,
	schema_version TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[5]s_reference_idx ON %[2]s (reference_id, created_at);
CREATE TABLE IF NOT EXISTS %[3]s (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Schema returns the DDL script creating the message, response and state tables.
func Schema(opts ...Option) (string, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate,
		cfg.MessageTable,
		cfg.ResponseTable,
		cfg.StateTable,
		indexPrefix(cfg.MessageTable),
		indexPrefix(cfg.ResponseTable),
	), nil
}

func indexPrefix(table string) string {
	return strings.ReplaceAll(table, ".", "_")
}
