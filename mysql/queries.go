package mysql

import (
	"fmt"
	"strings"
)

const (
	messageColumns = "id, jurisdiction_id, certificate_number, event_year, state_auxiliary_id, record_kind, schema_version, " +
		"message_type, payload, status, retries, expires_at, created_at, updated_at"
	responseColumns = "id, reference_id, jurisdiction_id, certificate_number, event_year, state_auxiliary_id, record_kind, " +
		"schema_version, kind, payload, created_at, updated_at"
)

type queries struct {
	insertMessage    string
	selectMessage    string
	listMessages     string
	updateDelivery   string
	messageExists    string
	insertResponse   string
	selectResponse   string
	listResponses    string
	applyTransition  string
	countPending     string
	selectState      string
	advanceWatermark string
}

func newQueries(cfg Config) queries {
	return queries{
		insertMessage: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)", cfg.MessageTable, messageColumns, makePlaceholders(14),
		),
		selectMessage: fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", messageColumns, cfg.MessageTable),
		listMessages:  fmt.Sprintf("SELECT %s FROM %s", messageColumns, cfg.MessageTable),
		updateDelivery: fmt.Sprintf(
			"UPDATE %s SET status = ?, retries = ?, expires_at = ?, updated_at = ? WHERE id = ? AND status = ? AND retries = ?",
			cfg.MessageTable,
		),
		messageExists: fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = ?)", cfg.MessageTable),
		insertResponse: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)", cfg.ResponseTable, responseColumns, makePlaceholders(12),
		),
		selectResponse: fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", responseColumns, cfg.ResponseTable),
		listResponses:  fmt.Sprintf("SELECT %s FROM %s", responseColumns, cfg.ResponseTable),
		applyTransition: fmt.Sprintf(
			"UPDATE %s SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
			cfg.MessageTable,
		),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = ?", cfg.MessageTable),
		selectState:  fmt.Sprintf("SELECT value FROM %s WHERE name = ?", cfg.StateTable),
		advanceWatermark: fmt.Sprintf(
			"INSERT INTO %s (name, value) VALUES (?, ?) AS new "+
				"ON DUPLICATE KEY UPDATE value = IF(new.value > %s.value, new.value, %s.value)",
			cfg.StateTable,
			cfg.StateTable,
			cfg.StateTable,
		),
	}
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
