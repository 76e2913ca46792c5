package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/velmie/vitalrelay"
)

const (
	errDuplicateEntry = 1062
	watermarkLayout   = "2006-01-02T15:04:05.000000000Z"
)

// Store implements vitalrelay.MessageStore and vitalrelay.WatermarkStore on MySQL.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
}

var (
	_ vitalrelay.MessageStore   = (*Store)(nil)
	_ vitalrelay.WatermarkStore = (*Store)(nil)
	_ vitalrelay.PendingCounter = (*Store)(nil)
)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(cfg),
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements, err := SchemaStatements(
		WithMessageTable(s.cfg.MessageTable),
		WithResponseTable(s.cfg.ResponseTable),
		WithStateTable(s.cfg.StateTable),
	)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vitalrelay mysql: migrate failed: %w", err)
		}
	}

	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg vitalrelay.OutboundMessage) error {
	if msg.ID == "" {
		return vitalrelay.ErrMessageIDRequired
	}

	_, err := s.db.ExecContext(ctx, s.queries.insertMessage,
		msg.ID,
		msg.BusinessKey.JurisdictionID,
		msg.BusinessKey.CertificateNumber,
		msg.BusinessKey.EventYear,
		msg.BusinessKey.StateAuxiliaryID,
		string(msg.RecordKind),
		msg.SchemaVersion,
		msg.MessageType,
		msg.Payload,
		string(msg.Status),
		msg.Retries,
		nullTime(msg.ExpiresAt),
		msg.CreatedAt.UTC(),
		msg.UpdatedAt.UTC(),
	)
	if isDuplicate(err) {
		return vitalrelay.ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("vitalrelay mysql: insert message failed: %w", err)
	}

	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (vitalrelay.OutboundMessage, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, s.queries.selectMessage, id))
	if errors.Is(err, sql.ErrNoRows) {
		return vitalrelay.OutboundMessage{}, vitalrelay.ErrMessageNotFound
	}
	if err != nil {
		return vitalrelay.OutboundMessage{}, fmt.Errorf("vitalrelay mysql: select message failed: %w", err)
	}

	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, filter vitalrelay.MessageFilter) ([]vitalrelay.OutboundMessage, error) {
	query, args := buildMessageQuery(s.queries.listMessages, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vitalrelay mysql: list messages failed: %w", err)
	}
	defer rows.Close()

	out := make([]vitalrelay.OutboundMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("vitalrelay mysql: scan message failed: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vitalrelay mysql: rows failed: %w", err)
	}

	return out, nil
}

func buildMessageQuery(base string, filter vitalrelay.MessageFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	statuses := filter.Statuses
	if len(statuses) == 0 && !filter.ExpiresBefore.IsZero() {
		statuses = vitalrelay.ResendableStatuses()
	}
	if len(statuses) > 0 {
		where = append(where, "status IN ("+makePlaceholders(len(statuses))+")")
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	if !filter.ExpiresBefore.IsZero() {
		where = append(where, "expires_at IS NOT NULL AND expires_at < ?")
		args = append(args, filter.ExpiresBefore.UTC())
	}
	if filter.RecordKind != "" {
		where = append(where, "record_kind = ?")
		args = append(args, string(filter.RecordKind))
	}
	if key := filter.BusinessKey; key != nil {
		where = append(where, "jurisdiction_id = ? AND certificate_number = ? AND event_year = ?")
		args = append(args, key.JurisdictionID, key.CertificateNumber, key.EventYear)
		if key.StateAuxiliaryID != "" {
			where = append(where, "state_auxiliary_id = ?")
			args = append(args, key.StateAuxiliaryID)
		}
	}

	var b strings.Builder
	b.WriteString(base)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if filter.Newest {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	} else {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	}
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	return b.String(), args
}

func (s *Store) UpdateDelivery(ctx context.Context, update vitalrelay.DeliveryUpdate) error {
	res, err := s.db.ExecContext(ctx, s.queries.updateDelivery,
		string(update.Status),
		update.Retries,
		nullTime(update.ExpiresAt),
		update.UpdatedAt.UTC(),
		update.ID,
		string(update.ExpectStatus),
		update.ExpectRetries,
	)
	if err != nil {
		return fmt.Errorf("vitalrelay mysql: update delivery failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("vitalrelay mysql: update delivery rows failed: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// A matching row always changes status or retries, so zero rows means missing or stale.
	var exists bool
	if err := s.db.QueryRowContext(ctx, s.queries.messageExists, update.ID).Scan(&exists); err != nil {
		return fmt.Errorf("vitalrelay mysql: select delivery failed: %w", err)
	}
	if !exists {
		return vitalrelay.ErrMessageNotFound
	}

	return vitalrelay.ErrStaleMessage
}

func (s *Store) GetResponse(ctx context.Context, id string) (vitalrelay.InboundResponse, error) {
	resp, err := scanResponse(s.db.QueryRowContext(ctx, s.queries.selectResponse, id))
	if errors.Is(err, sql.ErrNoRows) {
		return vitalrelay.InboundResponse{}, vitalrelay.ErrResponseNotFound
	}
	if err != nil {
		return vitalrelay.InboundResponse{}, fmt.Errorf("vitalrelay mysql: select response failed: %w", err)
	}

	return resp, nil
}

func (s *Store) ListResponses(ctx context.Context, filter vitalrelay.ResponseFilter) ([]vitalrelay.InboundResponse, error) {
	query := s.queries.listResponses
	var args []any
	if filter.ReferenceID != "" {
		query += " WHERE reference_id = ?"
		args = append(args, filter.ReferenceID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vitalrelay mysql: list responses failed: %w", err)
	}
	defer rows.Close()

	out := make([]vitalrelay.InboundResponse, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("vitalrelay mysql: scan response failed: %w", err)
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vitalrelay mysql: rows failed: %w", err)
	}

	return out, nil
}

func (s *Store) RecordResponse(ctx context.Context, resp vitalrelay.InboundResponse, transition *vitalrelay.Transition) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("vitalrelay mysql: begin tx failed: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.queries.insertResponse,
		resp.ID,
		nullString(resp.ReferenceID),
		resp.BusinessKey.JurisdictionID,
		resp.BusinessKey.CertificateNumber,
		resp.BusinessKey.EventYear,
		resp.BusinessKey.StateAuxiliaryID,
		string(resp.RecordKind),
		resp.SchemaVersion,
		resp.Kind.String(),
		resp.Payload,
		resp.CreatedAt.UTC(),
		resp.UpdatedAt.UTC(),
	)
	if isDuplicate(err) {
		return rollbackWith(tx, vitalrelay.ErrDuplicateResponse)
	}
	if err != nil {
		return rollbackWith(tx, fmt.Errorf("vitalrelay mysql: insert response failed: %w", err))
	}

	if transition != nil {
		res, err := tx.ExecContext(ctx, s.queries.applyTransition,
			string(transition.To),
			transition.At.UTC(),
			transition.MessageID,
			string(transition.From),
		)
		if err != nil {
			return rollbackWith(tx, fmt.Errorf("vitalrelay mysql: apply transition failed: %w", err))
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return rollbackWith(tx, fmt.Errorf("vitalrelay mysql: transition rows failed: %w", err))
		}
		if affected == 0 {
			return rollbackWith(tx, vitalrelay.ErrStaleMessage)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vitalrelay mysql: commit failed: %w", err)
	}

	return nil
}

// PendingCount returns the number of Pending messages.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countPending, string(vitalrelay.StatusPending)).Scan(&count); err != nil {
		return 0, fmt.Errorf("vitalrelay mysql: pending count failed: %w", err)
	}

	return count, nil
}

// Watermark returns the stored poll watermark or the zero time.
func (s *Store) Watermark(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.queries.selectState, s.cfg.WatermarkName).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("vitalrelay mysql: select watermark failed: %w", err)
	}

	return parseWatermark(value)
}

// AdvanceWatermark stores at unless a later watermark is already stored.
func (s *Store) AdvanceWatermark(ctx context.Context, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.queries.advanceWatermark, s.cfg.WatermarkName, formatWatermark(at)); err != nil {
		return fmt.Errorf("vitalrelay mysql: advance watermark failed: %w", err)
	}

	return nil
}

// formatWatermark renders a fixed-width UTC timestamp so stored values order lexically.
func formatWatermark(t time.Time) string {
	return t.UTC().Format(watermarkLayout)
}

func parseWatermark(value string) (time.Time, error) {
	t, err := time.Parse(watermarkLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWatermark, value)
	}

	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (vitalrelay.OutboundMessage, error) {
	var (
		msg        vitalrelay.OutboundMessage
		recordKind string
		status     string
		expiresAt  sql.NullTime
	)
	err := row.Scan(
		&msg.ID,
		&msg.BusinessKey.JurisdictionID,
		&msg.BusinessKey.CertificateNumber,
		&msg.BusinessKey.EventYear,
		&msg.BusinessKey.StateAuxiliaryID,
		&recordKind,
		&msg.SchemaVersion,
		&msg.MessageType,
		&msg.Payload,
		&status,
		&msg.Retries,
		&expiresAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return vitalrelay.OutboundMessage{}, err
	}
	msg.RecordKind = vitalrelay.RecordKind(recordKind)
	msg.Status = vitalrelay.Status(status)
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		msg.ExpiresAt = &t
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.UpdatedAt = msg.UpdatedAt.UTC()

	return msg, nil
}

func scanResponse(row scanner) (vitalrelay.InboundResponse, error) {
	var (
		resp       vitalrelay.InboundResponse
		reference  sql.NullString
		recordKind string
		kind       string
	)
	err := row.Scan(
		&resp.ID,
		&reference,
		&resp.BusinessKey.JurisdictionID,
		&resp.BusinessKey.CertificateNumber,
		&resp.BusinessKey.EventYear,
		&resp.BusinessKey.StateAuxiliaryID,
		&recordKind,
		&resp.SchemaVersion,
		&kind,
		&resp.Payload,
		&resp.CreatedAt,
		&resp.UpdatedAt,
	)
	if err != nil {
		return vitalrelay.InboundResponse{}, err
	}
	resp.ReferenceID = reference.String
	resp.RecordKind = vitalrelay.RecordKind(recordKind)
	resp.Kind, _ = vitalrelay.ParseResponseKind(kind)
	resp.CreatedAt = resp.CreatedAt.UTC()
	resp.UpdatedAt = resp.UpdatedAt.UTC()

	return resp, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *driver.MySQLError

	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}

func rollbackWith(tx *sql.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return errors.Join(err, fmt.Errorf("vitalrelay mysql: rollback failed: %w", rollbackErr))
	}

	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
