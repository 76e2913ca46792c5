// Package config loads the relay configuration from a YAML file with VITALRELAY_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const redacted = "******"

// Config is the complete relay configuration.
type Config struct {
	// PollingInterval is the scheduler period in seconds.
	PollingInterval int `yaml:"polling_interval" env:"VITALRELAY_POLLING_INTERVAL" env-default:"30" validate:"gt=0"`
	// ResendInterval is the base acknowledgement window in seconds.
	ResendInterval       int    `yaml:"resend_interval" env:"VITALRELAY_RESEND_INTERVAL" env-default:"3600" validate:"gt=0"`
	JurisdictionEndpoint string `yaml:"jurisdiction_endpoint" env:"VITALRELAY_JURISDICTION_ENDPOINT" validate:"required,url"`
	// MaxResends moves a message to Error after that many resends. Zero resends forever.
	MaxResends int `yaml:"max_resends" env:"VITALRELAY_MAX_RESENDS" validate:"gte=0"`

	Gateway   Gateway   `yaml:"gateway" env-prefix:"VITALRELAY_GATEWAY_"`
	Store     Store     `yaml:"store" env-prefix:"VITALRELAY_STORE_"`
	Watermark Watermark `yaml:"watermark" env-prefix:"VITALRELAY_WATERMARK_"`
	Server    Server    `yaml:"server" env-prefix:"VITALRELAY_SERVER_"`
	Log       Log       `yaml:"log" env-prefix:"VITALRELAY_LOG_"`
	Cleanup   Cleanup   `yaml:"cleanup" env-prefix:"VITALRELAY_CLEANUP_"`
}

// Gateway configures the remote API client.
type Gateway struct {
	BaseURL      string        `yaml:"base_url" env:"BASE_URL" validate:"required,url"`
	AuthURL      string        `yaml:"auth_url" env:"AUTH_URL" validate:"required_unless=LocalTesting true"`
	ClientID     string        `yaml:"client_id" env:"CLIENT_ID" validate:"required_unless=LocalTesting true"`
	ClientSecret string        `yaml:"client_secret" env:"CLIENT_SECRET"`
	Username     string        `yaml:"username" env:"USERNAME" validate:"required_unless=LocalTesting true"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	Scope        []string      `yaml:"scope" env:"SCOPE" env-separator:" "`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"30s" validate:"gt=0"`
	BatchSize    int           `yaml:"batch_size" env:"BATCH_SIZE" env-default:"20" validate:"gt=0,lte=100"`
	// LocalTesting talks to a local test server without authentication.
	LocalTesting bool `yaml:"local_testing" env:"LOCAL_TESTING"`
}

// Store selects the message store.
type Store struct {
	Driver string `yaml:"driver" env:"DRIVER" env-default:"memory" validate:"oneof=memory mysql postgres"`
	DSN    string `yaml:"dsn" env:"DSN" validate:"required_unless=Driver memory"`
}

// Watermark selects where the poll watermark lives.
type Watermark struct {
	Driver    string `yaml:"driver" env:"DRIVER" env-default:"store" validate:"oneof=store redis"`
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR" validate:"required_if=Driver redis"`
	RedisKey  string `yaml:"redis_key" env:"REDIS_KEY" env-default:"vitalrelay:last_polled_at"`
}

// Server configures the enqueue and status API.
type Server struct {
	Addr           string   `yaml:"addr" env:"ADDR" env-default:":8080" validate:"required"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:","`
	// AcceptResponses exposes POST /responses, which feeds payloads straight into reconciliation.
	AcceptResponses bool `yaml:"accept_responses" env:"ACCEPT_RESPONSES"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"FORMAT" env-default:"json" validate:"oneof=json text"`
}

// Cleanup configures retention of terminal messages and responses.
type Cleanup struct {
	Retention     time.Duration `yaml:"retention" env:"RETENTION" env-default:"720h" validate:"gt=0"`
	CheckEvery    time.Duration `yaml:"check_every" env:"CHECK_EVERY" env-default:"1h" validate:"gt=0"`
	Limit         int           `yaml:"limit" env:"LIMIT" env-default:"1000" validate:"gt=0"`
	IncludeErrors bool          `yaml:"include_errors" env:"INCLUDE_ERRORS"`
}

var validate = validator.New()

// Load reads path, applies environment overrides and defaults, and validates the result. An empty
// path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return fmt.Errorf("config: %w", err)
	}
	errs := make([]error, 0, len(fields))
	for _, f := range fields {
		errs = append(errs, fmt.Errorf("config: %s fails %q", f.Namespace(), f.Tag()))
	}

	return errors.Join(errs...)
}

// Poll returns the polling interval.
func (c *Config) Poll() time.Duration {
	return time.Duration(c.PollingInterval) * time.Second
}

// Resend returns the base resend interval.
func (c *Config) Resend() time.Duration {
	return time.Duration(c.ResendInterval) * time.Second
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	if c.Gateway.ClientSecret != "" {
		c.Gateway.ClientSecret = redacted
	}
	if c.Gateway.Password != "" {
		c.Gateway.Password = redacted
	}
	if c.Store.DSN != "" {
		c.Store.DSN = redacted
	}

	return c
}

// YAML renders the configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}

	return out, nil
}
