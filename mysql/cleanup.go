package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/vitalrelay"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "vitalrelay:cleanup:"
)

// CleanupOptions defines which rows a cleanup pass deletes. Pending, Sent and Acknowledged
// messages are never deleted.
type CleanupOptions struct {
	// Before removes rows last updated at or before this timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per table (0 uses the default).
	Limit int
	// IncludeErrors removes Error messages in addition to AcknowledgedAndCoded ones.
	IncludeErrors bool
}

// CleanupResult counts deleted rows per category.
type CleanupResult struct {
	Responses int64
	Coded     int64
	Errors    int64
}

// CleanupMaintainerConfig controls periodic retention cleanup.
type CleanupMaintainerConfig struct {
	// Store options selecting the tables.
	Options []Option
	// Retention is the minimum age of a deleted row. Required.
	Retention time.Duration
	// CheckEvery spaces maintainer passes; one hour when zero.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per table and run (0 uses the default).
	Limit int
	// IncludeErrors removes Error messages in addition to AcknowledgedAndCoded ones.
	IncludeErrors bool
	// LockName is the advisory lock name. Defaults to vitalrelay:cleanup:<message table>.
	LockName string
	// Clock supplies now for the retention cutoff.
	Clock vitalrelay.Clock
	// Logger reports skipped passes and failures.
	Logger vitalrelay.Logger
}

// CleanupMaintainer runs periodic retention cleanup, one replica at a time.
type CleanupMaintainer struct {
	store *Store
	cfg   CleanupMaintainerConfig
}

// Cleanup removes responses created before opts.Before and terminal messages last updated
// before it.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}

	var (
		result CleanupResult
		err    error
	)
	result.Responses, err = s.deleteBefore(ctx, s.cfg.ResponseTable, "created_at", "", opts.Before, limit)
	if err != nil {
		return result, err
	}
	result.Coded, err = s.deleteBefore(ctx, s.cfg.MessageTable, "updated_at", vitalrelay.StatusAcknowledgedAndCoded, opts.Before, limit)
	if err != nil {
		return result, err
	}
	if opts.IncludeErrors {
		result.Errors, err = s.deleteBefore(ctx, s.cfg.MessageTable, "updated_at", vitalrelay.StatusError, opts.Before, limit)
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

// NewCleanupMaintainer validates cfg and fills unset fields. Table names come from cfg.Options.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = vitalrelay.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = vitalrelay.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}

	store, err := NewStore(db, cfg.Options...)
	if err != nil {
		return nil, err
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + store.cfg.MessageTable
	}

	return &CleanupMaintainer{store: store, cfg: cfg}, nil
}

// Run periodically deletes old rows until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	m.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *CleanupMaintainer) runOnce(ctx context.Context) {
	result, err := m.Ensure(ctx)
	if err != nil {
		m.cfg.Logger.Warn("vitalrelay cleanup failed", "err", err)

		return
	}
	if result.Responses+result.Coded+result.Errors > 0 {
		m.cfg.Logger.Info("vitalrelay cleanup done", "responses", result.Responses, "coded", result.Coded, "errors", result.Errors)
	}
}

// Ensure executes a single cleanup pass. It does nothing when another session holds the lock.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	conn, err := m.store.db.Conn(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("vitalrelay mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return CleanupResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("vitalrelay cleanup lock held by another session")

		return CleanupResult{}, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.store.Cleanup(ctx, CleanupOptions{
		Before:        before,
		Limit:         m.cfg.Limit,
		IncludeErrors: m.cfg.IncludeErrors,
	})
}

func (s *Store) deleteBefore(ctx context.Context, table, tsColumn string, status vitalrelay.Status, before time.Time, limit int) (int64, error) {
	query, args := buildCleanupQuery(table, tsColumn, status, before, limit)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("vitalrelay mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("vitalrelay mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}

func buildCleanupQuery(table, tsColumn string, status vitalrelay.Status, before time.Time, limit int) (string, []any) {
	if status == "" {
		// #nosec G201 -- table and column names are internal and sanitized.
		return fmt.Sprintf("DELETE FROM %s WHERE %s <= ? ORDER BY %s LIMIT ?", table, tsColumn, tsColumn),
			[]any{before.UTC(), limit}
	}

	// #nosec G201 -- table and column names are internal and sanitized.
	return fmt.Sprintf("DELETE FROM %s WHERE status = ? AND %s <= ? ORDER BY %s LIMIT ?", table, tsColumn, tsColumn),
		[]any{string(status), before.UTC(), limit}
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("vitalrelay mysql: acquire cleanup lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("vitalrelay cleanup release lock failed", "err", err)
	}
}
