package postgres

import "errors"

var (
	// ErrDBRequired is returned when a nil pool is provided.
	ErrDBRequired = errors.New("vitalrelay postgres: db is required")
	// ErrInvalidTableName is returned when a table name is empty or has disallowed characters.
	ErrInvalidTableName = errors.New("vitalrelay postgres: invalid table name")
	// ErrInvalidWatermark is returned when the stored watermark cannot be parsed.
	ErrInvalidWatermark = errors.New("vitalrelay postgres: invalid stored watermark")
)
