// Package redisstate keeps the poll watermark in Redis so several relay replicas share one cursor.
package redisstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velmie/vitalrelay"
)

const (
	// DefaultKey is the Redis key holding the watermark.
	DefaultKey = "vitalrelay:last_polled_at"

	layout = "2006-01-02T15:04:05.000000000Z"
)

var (
	// ErrClientRequired is returned when a nil client is provided.
	ErrClientRequired = errors.New("vitalrelay redis: client is required")
	// ErrInvalidWatermark is returned when the stored value cannot be parsed.
	ErrInvalidWatermark = errors.New("vitalrelay redis: invalid stored watermark")
)

// Values share a fixed-width layout, so string order is time order.
var advanceScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if (not current) or current < ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// Watermarks implements vitalrelay.WatermarkStore on Redis.
type Watermarks struct {
	client redis.UniversalClient
	key    string
}

var _ vitalrelay.WatermarkStore = (*Watermarks)(nil)

// Option configures Watermarks.
type Option func(*Watermarks)

// WithKey overrides the Redis key.
func WithKey(key string) Option {
	return func(w *Watermarks) {
		if key != "" {
			w.key = key
		}
	}
}

// New constructs a Redis watermark store.
func New(client redis.UniversalClient, opts ...Option) (*Watermarks, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	w := &Watermarks{client: client, key: DefaultKey}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Watermark returns the stored watermark or the zero time.
func (w *Watermarks) Watermark(ctx context.Context) (time.Time, error) {
	value, err := w.client.Get(ctx, w.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("vitalrelay redis: get watermark failed: %w", err)
	}

	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWatermark, value)
	}

	return t, nil
}

// AdvanceWatermark stores at unless a later watermark is already stored.
func (w *Watermarks) AdvanceWatermark(ctx context.Context, at time.Time) error {
	value := at.UTC().Format(layout)
	if err := advanceScript.Run(ctx, w.client, []string{w.key}, value).Err(); err != nil {
		return fmt.Errorf("vitalrelay redis: advance watermark failed: %w", err)
	}

	return nil
}
