package postgres

import (
	"fmt"
	"strings"
)

// Config defines PostgreSQL store behavior.
type Config struct {
	MessageTable  string
	ResponseTable string
	StateTable    string
	WatermarkName string
}

func (c Config) withDefaults() Config {
	if c.MessageTable == "" {
		c.MessageTable = "outbound_messages"
	}
	if c.ResponseTable == "" {
		c.ResponseTable = "inbound_responses"
	}
	if c.StateTable == "" {
		c.StateTable = "relay_state"
	}
	if c.WatermarkName == "" {
		c.WatermarkName = "last_polled_at"
	}

	return c
}

// Option configures the PostgreSQL store.
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

// WithWatermarkName sets the state row name of the poll watermark.
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
	cfg = cfg.withDefaults()
	for _, name := range []string{cfg.MessageTable, cfg.ResponseTable, cfg.StateTable} {
		if err := checkTableName(name); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func checkTableName(name string) error {
	if name == "" {
		return ErrInvalidTableName
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
				continue
			}

			return fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return nil
}
