// Package retry wraps operations with bounded exponential backoff and
// jitter. Errors are classified as retryable or permanent; permanent errors
// fail immediately without consuming attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default retry parameters.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitter       = 0.25
)

// Options configures a retry loop.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Jitter is the randomization factor applied to each delay (0.25 means
	// the delay varies by up to 25%).
	Jitter float64
	// RetryIf overrides the default retryable classification.
	RetryIf func(error) bool
	// OnRetry is invoked before each retry with the failing error and the
	// attempt number that just failed (1-based).
	OnRetry func(err error, attempt int)
}

// DefaultOptions returns the standard retry parameters.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxDelay:     DefaultMaxDelay,
		Jitter:       DefaultJitter,
	}
}

// normalize fills zero fields with defaults.
func (o Options) normalize() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.Multiplier <= 1 {
		o.Multiplier = DefaultMultiplier
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Jitter <= 0 {
		o.Jitter = DefaultJitter
	}
	if o.RetryIf == nil {
		o.RetryIf = IsRetryable
	}
	return o
}

// Error is returned when all attempts are exhausted on a retryable error.
// It wraps the last error for errors.Is/As traversal.
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last underlying error.
func (e *Error) Unwrap() error { return e.Last }

// Do executes op with retry. The first attempt runs immediately; each
// retryable failure sleeps initialDelay * multiplier^(attempt-1), jittered,
// capped at maxDelay. A permanent error (per RetryIf) is returned as-is
// without further attempts; exhaustion returns a *Error wrapping the last
// retryable error. Context cancellation aborts the loop between attempts.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	opts = opts.normalize()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialDelay
	b.Multiplier = opts.Multiplier
	b.MaxInterval = opts.MaxDelay
	b.RandomizationFactor = opts.Jitter

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !opts.RetryIf(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, _ time.Duration) {
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		}
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(opts.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return v, err
	}
	if opts.RetryIf(err) {
		return v, &Error{Attempts: attempt, Last: err}
	}
	return v, err
}

// IsRetryable classifies an error as transient. Network failures, timeouts,
// connection resets, throttling, and upstream 5xx responses are retryable;
// everything else is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryablePatterns are message fragments that mark transient failures from
// sources that do not surface typed errors.
var retryablePatterns = []string{
	"connection reset",
	"connection refused",
	"econnreset",
	"etimedout",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"too many requests",
	"429",
	"502",
	"503",
	"bad gateway",
	"service unavailable",
}
