package mysql

import (
	"fmt"
	"strings"
)

const (
	defaultMessageTable  = "outbound_messages"
	defaultResponseTable = "inbound_responses"
	defaultStateTable    = "relay_state"
	defaultWatermarkName = "last_polled_at"

	// maxIdentifierLength is the MySQL limit for a schema or table identifier.
	maxIdentifierLength = 64
)

// Config defines MySQL store behavior.
type Config struct {
	MessageTable  string
	ResponseTable string
	StateTable    string
	// WatermarkName is the state row holding the poll watermark.
	WatermarkName string
}

func (c Config) withDefaults() Config {
	if c.MessageTable == "" {
		c.MessageTable = defaultMessageTable
	}
	if c.ResponseTable == "" {
		c.ResponseTable = defaultResponseTable
	}
	if c.StateTable == "" {
		c.StateTable = defaultStateTable
	}
	if c.WatermarkName == "" {
		c.WatermarkName = defaultWatermarkName
	}

	return c
}

// sanitized rejects table names that cannot be interpolated into queries unquoted.
func (c Config) sanitized() (Config, error) {
	tables := []struct{ role, name string }{
		{"message", c.MessageTable},
		{"response", c.ResponseTable},
		{"state", c.StateTable},
	}
	for _, table := range tables {
		if err := checkTableName(table.role, table.name); err != nil {
			return c, err
		}
	}

	return c, nil
}

// checkTableName accepts "table" or "schema.table" made of ASCII letters, digits and underscores.
func checkTableName(role, name string) error {
	parts := strings.Split(name, ".")
	if name == "" || len(parts) > 2 {
		return fmt.Errorf("%w: %s table %q", ErrInvalidTableName, role, name)
	}
	for _, part := range parts {
		if part == "" || len(part) > maxIdentifierLength || strings.IndexFunc(part, notIdentifierRune) >= 0 {
			return fmt.Errorf("%w: %s table %q", ErrInvalidTableName, role, name)
		}
	}

	return nil
}

func notIdentifierRune(r rune) bool {
	return r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z')
}

// Option configures the MySQL store.
type Option func(*Config)

// WithMessageTable sets the outbound message table name.
func WithMessageTable(name string) Option {
	return func(c *Config) {
		c.MessageTable = name
	}
}

// WithResponseTable sets the inbound response table name.
func WithResponseTable(name string) Option {
	return func(c *Config) {
		c.ResponseTable = name
	}
}

// WithStateTable sets the name/value state table name.
func WithStateTable(name string) Option {
	return func(c *Config) {
		c.StateTable = name
	}
}

// WithWatermarkName sets the state row name of the poll watermark. Relays sharing one database
// but polling different endpoints need distinct names.
func WithWatermarkName(name string) Option {
	return func(c *Config) {
		c.WatermarkName = name
	}
}

func buildConfig(opts []Option) (Config, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg.withDefaults().sanitized()
}
