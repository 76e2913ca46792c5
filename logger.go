package vitalrelay

// Logger receives the relay's structured log events. *slog.Logger satisfies it.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)
	// Info logs an informational message.
	Info(msg string, args ...any)
	// Warn logs a warning message.
	Warn(msg string, args ...any)
	// Error logs an error message.
	Error(msg string, args ...any)
}

// NopLogger is a no-op logger.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, ...any) {}

// messageAttrs returns the identifying log attributes of msg followed by extra.
func messageAttrs(msg OutboundMessage, extra ...any) []any {
	attrs := make([]any, 0, 8+len(extra))
	attrs = append(attrs,
		"message_id", msg.ID,
		"path", msg.Path(),
		"cert_no", msg.BusinessKey.CertificateNumber,
		"jurisdiction_id", msg.BusinessKey.JurisdictionID,
	)

	return append(attrs, extra...)
}
