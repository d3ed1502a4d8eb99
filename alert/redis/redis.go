// Package redis implements a Redis pub/sub alert sink.
//
// Alerts are published as JSON to a configurable channel. Connection
// errors are retried with exponential backoff.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/opengovsl/landetl/alert"
	"github.com/opengovsl/landetl/types"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "landetl:alerts"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub sink.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: landetl:alerts).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Sink publishes alerts via Redis PUBLISH.
type Sink struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub sink from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis sink requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Sink{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Send publishes the alert as JSON to the configured channel.
// Retries with exponential backoff on failures.
func (s *Sink) Send(ctx context.Context, a *types.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal alert: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + s.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		lastErr = s.client.Publish(publishCtx, s.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases sink resources.
func (s *Sink) Close() error {
	return s.client.Close()
}

// Verify Sink implements the alert sink interface.
var _ alert.Sink = (*Sink)(nil)
