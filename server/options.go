package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/velmie/vitalrelay"
)

const (
	defaultMaxBodyBytes = 10 << 20
	defaultListLimit    = 100
	maxListLimit        = 1000
	tracingName         = "vitalrelay"
)

// Config defines the HTTP surface.
type Config struct {
	// AllowedOrigins enables CORS for the listed dashboard origins. Empty disables CORS.
	AllowedOrigins []string
	// Responses receives payloads posted to /responses. Nil leaves the endpoint unmounted.
	Responses    vitalrelay.Handler
	Registry     *prometheus.Registry
	MaxBodyBytes int64
	Logger       vitalrelay.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.Logger == nil {
		c.Logger = vitalrelay.NopLogger{}
	}

	return c
}

// Option configures the server.
type Option func(*Config)

// WithAllowedOrigins sets the origins allowed to call the API from a browser.
func WithAllowedOrigins(origins ...string) Option {
	return func(c *Config) {
		c.AllowedOrigins = origins
	}
}

// WithResponseHandler mounts POST /responses and feeds every body to h.
func WithResponseHandler(h vitalrelay.Handler) Option {
	return func(c *Config) {
		c.Responses = h
	}
}

// WithRegistry records request metrics in reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = reg
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Config) {
		c.MaxBodyBytes = n
	}
}

// WithLogger sets the request logger.
func WithLogger(logger vitalrelay.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
