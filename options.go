package vitalrelay

import "time"

const (
	defaultPollInterval   = 30 * time.Second
	defaultResendInterval = time.Hour
	defaultPendingCheck   = 0
	recordAttempts        = 3
)

// Config defines how the Engine schedules and delivers messages.
type Config struct {
	// PollInterval is the fixed tick period of Run.
	PollInterval time.Duration
	// ResendInterval is the base acknowledgement window. The n-th resend waits n times as long.
	ResendInterval time.Duration
	// JurisdictionEndpoint stamps the source of locally synthesized messages.
	JurisdictionEndpoint string
	// MaxResends moves a message to Error once it was resent that many times. Zero disables it.
	MaxResends        int
	PhaseTimeout      time.Duration
	PendingInterval   time.Duration
	Clock             Clock
	Logger            Logger
	Metrics           Metrics
	OutcomeClassifier OutcomeClassifier
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ResendInterval <= 0 {
		c.ResendInterval = defaultResendInterval
	}
	if c.MaxResends < 0 {
		c.MaxResends = 0
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.OutcomeClassifier == nil {
		c.OutcomeClassifier = defaultOutcomeClassifier
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = defaultPendingCheck
	}

	return c
}

// Option configures Engine behavior.
type Option func(*Config)

// WithPollInterval sets the scheduler tick period.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = interval
	}
}

// WithResendInterval sets the base acknowledgement window.
func WithResendInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.ResendInterval = interval
	}
}

// WithJurisdictionEndpoint sets the endpoint stamped on synthesized extraction errors.
func WithJurisdictionEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.JurisdictionEndpoint = endpoint
	}
}

// WithMaxResends caps automatic resends. Zero keeps resending until acknowledged or rejected.
func WithMaxResends(limit int) Option {
	return func(c *Config) {
		c.MaxResends = limit
	}
}

// WithClock sets the Engine clock.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the engine metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithOutcomeClassifier overrides how delivery outcomes map to state changes.
func WithOutcomeClassifier(classifier OutcomeClassifier) Option {
	return func(c *Config) {
		c.OutcomeClassifier = classifier
	}
}

// WithPhaseTimeout bounds each tick phase. Zero leaves phases bounded only by the caller context.
func WithPhaseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.PhaseTimeout = timeout
	}
}

// WithPendingInterval sets the minimum interval between pending count samples.
// Use a positive value to enable sampling or zero to keep it disabled.
// The default is disabled.
func WithPendingInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.PendingInterval = interval
	}
}
