package httpgateway

import (
	"net/http"
	"time"

	"github.com/velmie/vitalrelay"
)

const (
	defaultBatchSize = 20
	defaultTimeout   = 30 * time.Second
	defaultMaxPages  = 1000
)

// Config defines gateway behavior.
type Config struct {
	// BaseURL is the jurisdiction's API root, e.g. https://api.example.org/NVSSFHIRAPI/MA.
	BaseURL   string
	BatchSize int
	Timeout   time.Duration
	// MaxPages bounds the pages read by one FetchSince.
	MaxPages int
	// Tokens authenticates requests. Nil sends no Authorization header, as against a local test server.
	Tokens TokenSource
	Client *http.Client
	Logger vitalrelay.Logger
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.Logger == nil {
		c.Logger = vitalrelay.NopLogger{}
	}

	return c
}

// Option configures the gateway.
type Option func(*Config)

// WithBatchSize sets the maximum number of messages per batch request.
func WithBatchSize(n int) Option {
	return func(c *Config) {
		c.BatchSize = n
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithMaxPages bounds the pages read by one FetchSince.
func WithMaxPages(n int) Option {
	return func(c *Config) {
		c.MaxPages = n
	}
}

// WithTokenSource authenticates requests with tokens from src.
func WithTokenSource(src TokenSource) Option {
	return func(c *Config) {
		c.Tokens = src
	}
}

// WithHTTPClient sets the HTTP client. The client is used as is, without added instrumentation.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.Client = client
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger vitalrelay.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
