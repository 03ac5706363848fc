// Package resilience provides the bounded-retry helper wrapped around every
// voice adapter call. On exhaustion the caller emits a voice_error with a
// stable correlation ID and degrades the session to text-only voice.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Defaults for adapter calls.
const (
	DefaultAttempts = 2
	DefaultDelay    = 150 * time.Millisecond
)

// ErrAttemptsExhausted wraps the last error after all attempts failed.
var ErrAttemptsExhausted = errors.New("resilience: attempts exhausted")

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy is 2 attempts with a 150 ms baseline delay.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Retry runs fn up to p.Attempts times, sleeping p.Delay between attempts.
// The first success wins. On exhaustion it returns the zero value and an
// error wrapping both ErrAttemptsExhausted and the last failure. Context
// cancellation aborts between attempts.
func Retry[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		slog.Warn("adapter call failed",
			"operation", op, "attempt", attempt, "max_attempts", p.Attempts, "err", err)

		if attempt < p.Attempts && p.Delay > 0 {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}
	return zero, errors.Join(ErrAttemptsExhausted, lastErr)
}
