package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("vitalrelay mysql: db is required")
	// ErrInvalidTableName is returned when a table name is empty, too long or has disallowed
	// characters. The message names the table role.
	ErrInvalidTableName = errors.New("vitalrelay mysql: invalid table name")
	// ErrInvalidWatermark is returned when the stored watermark cannot be parsed.
	ErrInvalidWatermark = errors.New("vitalrelay mysql: invalid stored watermark")
	// ErrCleanupBeforeRequired is returned when cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("vitalrelay mysql: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("vitalrelay mysql: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("vitalrelay mysql: cleanup retention must be positive")
)
