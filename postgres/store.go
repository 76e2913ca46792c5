package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velmie/vitalrelay"
)

const (
	uniqueViolation = "23505"
	watermarkLayout = "2006-01-02T15:04:05.000000000Z"

	messageColumns = "id, jurisdiction_id, certificate_number, event_year, state_auxiliary_id, record_kind, schema_version, " +
		"message_type, payload, status, retries, expires_at, created_at, updated_at"
	responseColumns = "id, reference_id, jurisdiction_id, certificate_number, event_year, state_auxiliary_id, record_kind, " +
		"schema_version, kind, payload, created_at, updated_at"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements vitalrelay.MessageStore and vitalrelay.WatermarkStore on PostgreSQL.
type Store struct {
	db  DB
	cfg Config
}

var (
	_ vitalrelay.MessageStore   = (*Store)(nil)
	_ vitalrelay.WatermarkStore = (*Store)(nil)
	_ vitalrelay.PendingCounter = (*Store)(nil)
)

// NewStore constructs a PostgreSQL store.
func NewStore(db DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, cfg: cfg}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema, err := Schema(
		WithMessageTable(s.cfg.MessageTable),
		WithResponseTable(s.cfg.ResponseTable),
		WithStateTable(s.cfg.StateTable),
	)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("vitalrelay postgres: migrate failed: %w", err)
	}

	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg vitalrelay.OutboundMessage) error {
	if msg.ID == "" {
		return vitalrelay.ErrMessageIDRequired
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.cfg.MessageTable, messageColumns, placeholders(1, 14))
	_, err := s.db.Exec(ctx, query,
		msg.ID,
		msg.BusinessKey.JurisdictionID,
		int64(msg.BusinessKey.CertificateNumber),
		int64(msg.BusinessKey.EventYear),
		msg.BusinessKey.StateAuxiliaryID,
		string(msg.RecordKind),
		msg.SchemaVersion,
		msg.MessageType,
		msg.Payload,
		string(msg.Status),
		msg.Retries,
		utcPtr(msg.ExpiresAt),
		msg.CreatedAt.UTC(),
		msg.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return vitalrelay.ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("vitalrelay postgres: insert message failed: %w", err)
	}

	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (vitalrelay.OutboundMessage, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", messageColumns, s.cfg.MessageTable)
	msg, err := scanMessage(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return vitalrelay.OutboundMessage{}, vitalrelay.ErrMessageNotFound
	}
	if err != nil {
		return vitalrelay.OutboundMessage{}, fmt.Errorf("vitalrelay postgres: select message failed: %w", err)
	}

	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, filter vitalrelay.MessageFilter) ([]vitalrelay.OutboundMessage, error) {
	query, args := buildMessageQuery(fmt.Sprintf("SELECT %s FROM %s", messageColumns, s.cfg.MessageTable), filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vitalrelay postgres: list messages failed: %w", err)
	}
	defer rows.Close()

	out := make([]vitalrelay.OutboundMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("vitalrelay postgres: scan message failed: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vitalrelay postgres: rows failed: %w", err)
	}

	return out, nil
}

func buildMessageQuery(base string, filter vitalrelay.MessageFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)

		return fmt.Sprintf("$%d", len(args))
	}

	statuses := filter.Statuses
	if len(statuses) == 0 && !filter.ExpiresBefore.IsZero() {
		statuses = vitalrelay.ResendableStatuses()
	}
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, status := range statuses {
			names = append(names, string(status))
		}
		where = append(where, "status = ANY("+next(names)+")")
	}
	if !filter.ExpiresBefore.IsZero() {
		where = append(where, "expires_at IS NOT NULL AND expires_at < "+next(filter.ExpiresBefore.UTC()))
	}
	if filter.RecordKind != "" {
		where = append(where, "record_kind = "+next(string(filter.RecordKind)))
	}
	if key := filter.BusinessKey; key != nil {
		where = append(where,
			"jurisdiction_id = "+next(key.JurisdictionID),
			"certificate_number = "+next(int64(key.CertificateNumber)),
			"event_year = "+next(int64(key.EventYear)),
		)
		if key.StateAuxiliaryID != "" {
			where = append(where, "state_auxiliary_id = "+next(key.StateAuxiliaryID))
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
		b.WriteString(" LIMIT " + next(filter.Limit))
	}

	return b.String(), args
}

func (s *Store) UpdateDelivery(ctx context.Context, update vitalrelay.DeliveryUpdate) error {
	query := fmt.Sprintf(
		"UPDATE %s SET status = $1, retries = $2, expires_at = $3, updated_at = $4 WHERE id = $5 AND status = $6 AND retries = $7",
		s.cfg.MessageTable,
	)
	tag, err := s.db.Exec(ctx, query,
		string(update.Status),
		update.Retries,
		utcPtr(update.ExpiresAt),
		update.UpdatedAt.UTC(),
		update.ID,
		string(update.ExpectStatus),
		update.ExpectRetries,
	)
	if err != nil {
		return fmt.Errorf("vitalrelay postgres: update delivery failed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRow(ctx, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", s.cfg.MessageTable), update.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("vitalrelay postgres: select delivery failed: %w", err)
	}
	if !exists {
		return vitalrelay.ErrMessageNotFound
	}

	return vitalrelay.ErrStaleMessage
}

func (s *Store) GetResponse(ctx context.Context, id string) (vitalrelay.InboundResponse, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", responseColumns, s.cfg.ResponseTable)
	resp, err := scanResponse(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return vitalrelay.InboundResponse{}, vitalrelay.ErrResponseNotFound
	}
	if err != nil {
		return vitalrelay.InboundResponse{}, fmt.Errorf("vitalrelay postgres: select response failed: %w", err)
	}

	return resp, nil
}

func (s *Store) ListResponses(ctx context.Context, filter vitalrelay.ResponseFilter) ([]vitalrelay.InboundResponse, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", responseColumns, s.cfg.ResponseTable)
	var args []any
	if filter.ReferenceID != "" {
		args = append(args, filter.ReferenceID)
		query += " WHERE reference_id = $1"
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vitalrelay postgres: list responses failed: %w", err)
	}
	defer rows.Close()

	out := make([]vitalrelay.InboundResponse, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("vitalrelay postgres: scan response failed: %w", err)
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vitalrelay postgres: rows failed: %w", err)
	}

	return out, nil
}

func (s *Store) RecordResponse(ctx context.Context, resp vitalrelay.InboundResponse, transition *vitalrelay.Transition) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vitalrelay postgres: begin tx failed: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("vitalrelay postgres: rollback failed: %w", rollbackErr))
			}
		}
	}()

	var reference *string
	if resp.ReferenceID != "" {
		reference = &resp.ReferenceID
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.cfg.ResponseTable, responseColumns, placeholders(1, 12))
	_, err = tx.Exec(ctx, insert,
		resp.ID,
		reference,
		resp.BusinessKey.JurisdictionID,
		int64(resp.BusinessKey.CertificateNumber),
		int64(resp.BusinessKey.EventYear),
		resp.BusinessKey.StateAuxiliaryID,
		string(resp.RecordKind),
		resp.SchemaVersion,
		resp.Kind.String(),
		resp.Payload,
		resp.CreatedAt.UTC(),
		resp.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return vitalrelay.ErrDuplicateResponse
	}
	if err != nil {
		return fmt.Errorf("vitalrelay postgres: insert response failed: %w", err)
	}

	if transition != nil {
		update := fmt.Sprintf("UPDATE %s SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4", s.cfg.MessageTable)
		tag, err := tx.Exec(ctx, update, string(transition.To), transition.At.UTC(), transition.MessageID, string(transition.From))
		if err != nil {
			return fmt.Errorf("vitalrelay postgres: apply transition failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return vitalrelay.ErrStaleMessage
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vitalrelay postgres: commit failed: %w", err)
	}

	return nil
}

// PendingCount returns the number of Pending messages.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = $1", s.cfg.MessageTable)
	if err := s.db.QueryRow(ctx, query, string(vitalrelay.StatusPending)).Scan(&count); err != nil {
		return 0, fmt.Errorf("vitalrelay postgres: pending count failed: %w", err)
	}

	return count, nil
}

// Watermark returns the stored poll watermark or the zero time.
func (s *Store) Watermark(ctx context.Context) (time.Time, error) {
	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE name = $1", s.cfg.StateTable)
	err := s.db.QueryRow(ctx, query, s.cfg.WatermarkName).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("vitalrelay postgres: select watermark failed: %w", err)
	}

	t, err := time.Parse(watermarkLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWatermark, value)
	}

	return t, nil
}

// AdvanceWatermark stores at unless a later watermark is already stored.
func (s *Store) AdvanceWatermark(ctx context.Context, at time.Time) error {
	query := fmt.Sprintf(
		"INSERT INTO %s AS cur (name, value) VALUES ($1, $2) "+
			"ON CONFLICT (name) DO UPDATE SET value = GREATEST(cur.value, EXCLUDED.value), updated_at = now()",
		s.cfg.StateTable,
	)
	if _, err := s.db.Exec(ctx, query, s.cfg.WatermarkName, at.UTC().Format(watermarkLayout)); err != nil {
		return fmt.Errorf("vitalrelay postgres: advance watermark failed: %w", err)
	}

	return nil
}

func scanMessage(row pgx.Row) (vitalrelay.OutboundMessage, error) {
	var (
		msg         vitalrelay.OutboundMessage
		certificate int64
		year        int64
		recordKind  string
		status      string
	)
	err := row.Scan(
		&msg.ID,
		&msg.BusinessKey.JurisdictionID,
		&certificate,
		&year,
		&msg.BusinessKey.StateAuxiliaryID,
		&recordKind,
		&msg.SchemaVersion,
		&msg.MessageType,
		&msg.Payload,
		&status,
		&msg.Retries,
		&msg.ExpiresAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return vitalrelay.OutboundMessage{}, err
	}
	msg.BusinessKey.CertificateNumber = uint32(certificate)
	msg.BusinessKey.EventYear = uint32(year)
	msg.RecordKind = vitalrelay.RecordKind(recordKind)
	msg.Status = vitalrelay.Status(status)
	msg.ExpiresAt = utcPtr(msg.ExpiresAt)
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.UpdatedAt = msg.UpdatedAt.UTC()

	return msg, nil
}

func scanResponse(row pgx.Row) (vitalrelay.InboundResponse, error) {
	var (
		resp        vitalrelay.InboundResponse
		reference   *string
		certificate int64
		year        int64
		recordKind  string
		kind        string
	)
	err := row.Scan(
		&resp.ID,
		&reference,
		&resp.BusinessKey.JurisdictionID,
		&certificate,
		&year,
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
	if reference != nil {
		resp.ReferenceID = *reference
	}
	resp.BusinessKey.CertificateNumber = uint32(certificate)
	resp.BusinessKey.EventYear = uint32(year)
	resp.RecordKind = vitalrelay.RecordKind(recordKind)
	resp.Kind, _ = vitalrelay.ParseResponseKind(kind)
	resp.CreatedAt = resp.CreatedAt.UTC()
	resp.UpdatedAt = resp.UpdatedAt.UTC()

	return resp, nil
}

func placeholders(from, count int) string {
	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		parts = append(parts, fmt.Sprintf("$%d", from+i))
	}

	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()

	return &v
}
