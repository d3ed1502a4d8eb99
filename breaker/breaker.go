// Package breaker provides named circuit breakers guarding external
// dependencies (source adapters, load destinations).
//
// State machine: CLOSED passes calls through; consecutive failures at or
// above the failure threshold open the breaker. OPEN rejects immediately
// with ErrOpen until the reset timeout elapses, then a HALF_OPEN probe
// window admits calls; enough consecutive successes close the breaker
// again, any failure re-opens it. Per-call timeouts count as failures.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Default breaker parameters.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 3
	DefaultResetTimeout     = 60 * time.Second
	DefaultCallTimeout      = 30 * time.Second
)

// ErrOpen is returned when the breaker rejects a call without executing it.
var ErrOpen = errors.New("circuit breaker is open")

// State is the externally visible breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds breaker thresholds and timeouts.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold uint32
	// SuccessThreshold is the consecutive-success count in HALF_OPEN that
	// closes the breaker.
	SuccessThreshold uint32
	// ResetTimeout is how long the breaker stays OPEN before probing.
	ResetTimeout time.Duration
	// CallTimeout bounds each wrapped call; expiry counts as a failure.
	CallTimeout time.Duration
	// OnStateChange is invoked on every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the standard breaker parameters.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		ResetTimeout:     DefaultResetTimeout,
		CallTimeout:      DefaultCallTimeout,
	}
}

func (c Config) normalize() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Breaker guards one external dependency.
type Breaker struct {
	name   string
	config Config
	cb     *gobreaker.CircuitBreaker
}

// New creates a named breaker.
func New(name string, config Config) *Breaker {
	config = config.normalize()

	settings := gobreaker.Settings{
		Name: name,
		// In half-open, close only after SuccessThreshold consecutive successes.
		MaxRequests: config.SuccessThreshold,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
	}
	if config.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			config.OnStateChange(name, mapState(from), mapState(to))
		}
	}

	return &Breaker{
		name:   name,
		config: config,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker) State() State { return mapState(b.cb.State()) }

// Snapshot is a point-in-time view of breaker state for observability.
type Snapshot struct {
	Name                 string
	State                State
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Snapshot returns the breaker's current state and counters.
func (b *Breaker) Snapshot() Snapshot {
	counts := b.cb.Counts()
	return Snapshot{
		Name:                 b.name,
		State:                mapState(b.cb.State()),
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

// Execute runs op through the breaker. The call races the configured
// CallTimeout; a timeout counts as a failure. When the breaker is open the
// call is rejected immediately with an error matching ErrOpen.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- op(callCtx) }()

		select {
		case opErr := <-done:
			return nil, opErr
		case <-callCtx.Done():
			return nil, fmt.Errorf("%s: call timed out: %w", b.name, callCtx.Err())
		}
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	return err
}

// Do runs a value-returning op through the breaker.
func Do[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		result = v
		return nil
	})
	return result, err
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
