package mysql

import (
	"fmt"
	"strings"
)

const messageTableTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(128) NOT NULL,
	jurisdiction_id VARCHAR(16) NOT NULL DEFAULT '',
	certificate_number INT UNSIGNED NOT NULL DEFAULT 0,
	event_year INT UNSIGNED NOT NULL DEFAULT 0,
	state_auxiliary_id VARCHAR(64) NOT NULL DEFAULT '',
	record_kind VARCHAR(32) NOT NULL,
	schema_version VARCHAR(32) NOT NULL DEFAULT '',
	message_type VARCHAR(255) NOT NULL DEFAULT '',
	payload LONGBLOB NOT NULL,
	status VARCHAR(32) NOT NULL,
	retries INT NOT NULL DEFAULT 0,
	expires_at TIMESTAMP(6) NULL,
	created_at TIMESTAMP(6) NOT NULL,
	updated_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (id),
	INDEX idx_status_expires (status, expires_at),
	INDEX idx_business_key (jurisdiction_id, event_year, certificate_number, created_at)
)`

const responseTableTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(128) NOT NULL,
	reference_id VARCHAR(128) NULL,
	jurisdiction_id VARCHAR(16) NOT NULL DEFAULT '',
	certificate_number INT UNSIGNED NOT NULL DEFAULT 0,
	event_year INT UNSIGNED NOT NULL DEFAULT 0,
	state_auxiliary_id VARCHAR(64) NOT NULL DEFAULT '',
	record_kind VARCHAR(32) NOT NULL,
	schema_version VARCHAR(32) NOT NULL DEFAULT '',
	kind VARCHAR(96) NOT NULL,
	payload LONGBLOB NOT NULL,
	created_at TIMESTAMP(6) NOT NULL,
	updated_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (id),
	INDEX idx_reference_created (reference_id, created_at)
)`

const stateTableTemplate = `CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(64) NOT NULL,
	value VARCHAR(255) NOT NULL,
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (name)
)`

// SchemaStatements returns the DDL statements creating the message, response and state tables.
func SchemaStatements(opts ...Option) ([]string, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	return []string{
		fmt.Sprintf(messageTableTemplate, cfg.MessageTable),
		fmt.Sprintf(responseTableTemplate, cfg.ResponseTable),
		fmt.Sprintf(stateTableTemplate, cfg.StateTable),
	}, nil
}

// Schema returns the full DDL script.
func Schema(opts ...Option) (string, error) {
	statements, err := SchemaStatements(opts...)
	if err != nil {
		return "", err
	}

	return strings.Join(statements, ";\n\n") + ";\n", nil
}
