package retry_test

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/opengovsl/landetl/retry"
)

// fastOptions keeps test retries in the millisecond range.
func fastOptions() retry.Options {
	opts := retry.DefaultOptions()
	opts.InitialDelay = time.Millisecond
	opts.MaxDelay = 10 * time.Millisecond
	return opts
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	v, err := retry.Do(t.Context(), fastOptions(), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || calls != 1 {
		t.Errorf("expected 42 after 1 call, got %d after %d", v, calls)
	}
}

func TestDo_RetryableThenSuccess(t *testing.T) {
	// Adapter fails with ECONNRESET twice then succeeds on attempt 3.
	calls := 0
	var retryEvents []int
	opts := fastOptions()
	opts.OnRetry = func(_ error, attempt int) {
		retryEvents = append(retryEvents, attempt)
	}

	v, err := retry.Do(t.Context(), opts, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", syscall.ECONNRESET
		}
		return "record", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "record" {
		t.Errorf("expected record, got %q", v)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(retryEvents) != 2 || retryEvents[0] != 1 || retryEvents[1] != 2 {
		t.Errorf("expected retry events for attempts [1 2], got %v", retryEvents)
	}
}

func TestDo_PermanentFailsImmediately(t *testing.T) {
	perm := errors.New("schema validation failed")
	calls := 0
	_, err := retry.Do(t.Context(), fastOptions(), func(context.Context) (int, error) {
		calls++
		return 0, perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", calls)
	}
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		t.Error("permanent error must not be wrapped in retry.Error")
	}
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	transient := errors.New("upstream 503 service unavailable")
	calls := 0
	_, err := retry.Do(t.Context(), fastOptions(), func(context.Context) (int, error) {
		calls++
		return 0, transient
	})

	var rerr *retry.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected retry.Error, got %v", err)
	}
	if rerr.Attempts != retry.DefaultMaxAttempts {
		t.Errorf("expected %d attempts recorded, got %d", retry.DefaultMaxAttempts, rerr.Attempts)
	}
	if calls != retry.DefaultMaxAttempts {
		t.Errorf("expected %d calls, got %d", retry.DefaultMaxAttempts, calls)
	}
	if !errors.Is(err, transient) {
		t.Error("retry.Error must wrap the last underlying error")
	}
}

func TestDo_CustomRetryIf(t *testing.T) {
	sentinel := errors.New("quota exceeded")
	opts := fastOptions()
	opts.RetryIf = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	_, err := retry.Do(t.Context(), opts, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if calls != opts.MaxAttempts {
		t.Errorf("expected %d attempts with custom predicate, got %d", opts.MaxAttempts, calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	opts := fastOptions()
	opts.MaxAttempts = 100
	opts.InitialDelay = 50 * time.Millisecond

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, opts, func(context.Context) (int, error) {
			calls++
			return 0, syscall.ECONNREFUSED
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not stop after cancellation")
	}
	if calls > 3 {
		t.Errorf("expected few attempts before cancel, got %d", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"timed out syscall", syscall.ETIMEDOUT, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"http 503", errors.New("unexpected status 503"), true},
		{"http 502", errors.New("upstream returned 502 bad gateway"), true},
		{"throttled", errors.New("429 too many requests"), true},
		{"temporarily unavailable", errors.New("resource temporarily unavailable"), true},
		{"message timeout", errors.New("query timed out"), true},
		{"validation", errors.New("invalid parcel number"), false},
		{"constraint", errors.New("duplicate key value violates unique constraint"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retry.IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
